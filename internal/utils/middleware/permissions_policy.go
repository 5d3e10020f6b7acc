package middleware

import "github.com/gin-gonic/gin"

// permissionsPolicy scopes the payment and publickey-credentials-get browser
// features to the processor's own origins.
const permissionsPolicy = `payment=(self "https://js.stripe.com" "https://hooks.stripe.com"), ` +
	`publickey-credentials-get=(self "https://js.stripe.com" "https://hooks.stripe.com")`

// PermissionsPolicy returns a middleware that sets the Permissions-Policy
// header on every response.
func PermissionsPolicy() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Permissions-Policy", permissionsPolicy)
		c.Next()
	}
}
