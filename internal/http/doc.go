// Package http provides the preflight check used before browsers start.
//
// A run launches one browser per worker and every one of them logs in. When
// the portal is down each of those logins would wait out its full deadline,
// so the CLI checks the login page first.
//
// This package handles:
//   - GET with redirects followed
//   - Retry with exponential backoff for connection failures and 5xx
//   - Typed errors for client-side status codes
//
// # Usage
//
//	client := http.NewClient(http.Options{
//	    Timeout:       10 * time.Second,
//	    RetryAttempts: 3,
//	})
//
//	info, err := client.Check(ctx, loginURL)
//	// info.StatusCode, info.FinalURL, info.Latency
package http
