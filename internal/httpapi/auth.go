package httpapi

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	contextKeyUserID = "session_user_id"
	headerSignature  = "X-Billing-Signature"
)

// sessionMiddleware validates the signed session token carried in the
// session cookie or an Authorization bearer header and stores the
// subject user id on the request context.
func sessionMiddleware(cfg Config) gin.HandlerFunc {
	signingKey := []byte(cfg.SessionSigningKey)
	return func(ctx *gin.Context) {
		rawToken := extractSessionToken(ctx, cfg.SessionCookieName)
		if rawToken == "" {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
			return
		}
		claims := jwt.RegisteredClaims{}
		token, err := jwt.ParseWithClaims(rawToken, &claims, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
			}
			return signingKey, nil
		}, jwt.WithIssuer(cfg.SessionIssuer))
		if err != nil || !token.Valid || strings.TrimSpace(claims.Subject) == "" {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("unauthorized", "invalid session"))
			return
		}
		ctx.Set(contextKeyUserID, claims.Subject)
		ctx.Next()
	}
}

func extractSessionToken(ctx *gin.Context, cookieName string) string {
	if cookie, err := ctx.Cookie(cookieName); err == nil && cookie != "" {
		return cookie
	}
	authorization := ctx.GetHeader("Authorization")
	if strings.HasPrefix(authorization, "Bearer ") {
		return strings.TrimPrefix(authorization, "Bearer ")
	}
	return ""
}

func sessionUserID(ctx *gin.Context) string {
	value, ok := ctx.Get(contextKeyUserID)
	if !ok {
		return ""
	}
	userID, _ := value.(string)
	return userID
}

// serviceTokenMiddleware guards the orchestrator-facing endpoints with
// a shared bearer token.
func serviceTokenMiddleware(cfg Config) gin.HandlerFunc {
	expected := []byte(cfg.ServiceToken)
	return func(ctx *gin.Context) {
		authorization := ctx.GetHeader("Authorization")
		presented := strings.TrimPrefix(authorization, "Bearer ")
		if presented == authorization {
			presented = ctx.GetHeader("X-Service-Token")
		}
		if presented == "" || subtle.ConstantTimeCompare([]byte(presented), expected) != 1 {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("unauthorized", "invalid service token"))
			return
		}
		ctx.Next()
	}
}

// signWebhookBody computes the hex HMAC-SHA256 signature the billing
// processor attaches to webhook deliveries.
func signWebhookBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func verifyWebhookSignature(secret string, body []byte, presented string) bool {
	if presented == "" {
		return false
	}
	expected := signWebhookBody(secret, body)
	return hmac.Equal([]byte(expected), []byte(presented))
}
