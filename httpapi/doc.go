// Package httpapi exposes the login flow over JSON: login, second factor,
// logout and a session probe. Mount Handler.Routes under /api/auth.
//
// Handlers only translate between HTTP and the engine. Status codes are
// chosen in errors.go; nothing below the engine is visible from here.
package httpapi
