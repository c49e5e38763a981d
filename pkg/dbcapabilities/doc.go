// Package dbcapabilities describes the databases quickdb can talk to. The
// closed DatabaseType tag selects an adapter, and the capability table lets
// the core make decisions (primary key name, embedded or server, default
// port) without importing any backend.
//
// Minimal usage example:
//
//	import "github.com/redbco/quickdb/pkg/dbcapabilities"
//
//	func isDocumentStore(name string) bool {
//	    id, ok := dbcapabilities.ParseID(name)
//	    return ok && dbcapabilities.SupportsParadigm(id, dbcapabilities.ParadigmDocument)
//	}
//
// Connection URLs are parsed with ParseConnectionString:
//
//	details, err := dbcapabilities.ParseConnectionString("postgres://app:secret@db:5432/shop")
//	if err != nil {
//	    return err
//	}
//	fmt.Println(details.DatabaseType, details.Host, details.Port)
package dbcapabilities
