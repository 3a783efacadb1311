// Package request provides HTTP middleware for per-request plumbing.
//
// It includes middleware for:
//   - Request ID generation and propagation
//   - Request timeout management
//
// Example usage:
//
//	handler := request.WithRequestID(
//		request.WithTimeout(30*time.Second)(
//			echoHandler,
//		),
//	)
package request
