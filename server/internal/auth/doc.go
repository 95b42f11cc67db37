// Package auth provides authentication middleware for the copperwatch HTTP
// surface.
//
// APIKeyMiddleware(mode, header, key, open...) validates the API key carried
// in the named request header. When mode != "apikey" or key == "", every
// request passes through (useful for local development with auth disabled).
// When the key is incorrect or absent the middleware answers 401 without
// calling the wrapped handler.
package auth
