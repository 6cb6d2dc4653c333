//go:build dev

package dashboard

import "io/fs"

// distFS is nil in dev mode; the page is served from disk by a local
// static server instead.
var distFS fs.FS
