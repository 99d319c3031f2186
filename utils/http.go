// utils/http.go
package utils

import (
	"net/http"
	"time"
)

// HTTPClient is the shared client for calls to the document store and other
// collaborator services. One client means one connection pool.
var HTTPClient = &http.Client{
	Timeout: 15 * time.Second,
}
