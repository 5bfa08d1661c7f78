// Package session provides sessions, the session manager and the stores
// that replicate session state.
//
// A Session holds named page maps, application values and the lock that
// serialises page-mutating request cycles:
//
//	sess, created, err := manager.Get(ctx, cookieID)
//	pages := sess.PageMap(page.DefaultMapName)
//
// Changes mark the session dirty; the request cycle calls Commit at the
// end of the request, which encodes the State and saves it to the store.
//
// # Stores
//
//	store := session.NewMemoryStore()
//	// or
//	store := session.NewSQLStore(db, session.WithSQLDialect(session.DialectSQLite))
//	// or
//	store := session.NewS3Store(s3.NewFromConfig(cfg), "bucket", "sessions/")
//	// or, with an adapter over a go-redis client
//	store := session.NewRedisStore(client)
//
// Component trees are never replicated. A session restored on another node
// gets its values back and starts with empty page maps.
package session
