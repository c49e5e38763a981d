package odm

import "errors"

var (
	ErrAliasNotFound  = errors.New("database alias not found")
	ErrAliasExists    = errors.New("database alias already registered")
	ErrNoDefaultAlias = errors.New("no database registered")
	ErrShutdown       = errors.New("odm is shut down")
	ErrCacheDisabled  = errors.New("cache is not enabled for alias")
)
