package middlewares

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"bitbucket.org/mmdatafocus/pos_backend/config"
	"bitbucket.org/mmdatafocus/pos_backend/utils"
)

// Session is the cached register session stored at login.
type Session struct {
	StoreId    string `json:"storeId"`
	UserId     int    `json:"userId"`
	UserName   string `json:"userName"`
	RegisterId int    `json:"registerId"`
}

// SessionMiddleware resolves the caller's session and attaches store,
// user and register to the request context. Tokens are looked up in
// Redis; when no token is present the device headers are trusted, since
// the register app runs on the same box as this service.
func SessionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Request.Header.Get("token")
		if token != "" {
			var sess Session
			found, err := config.GetRedisObject("Session:"+token, &sess)
			if err != nil || !found {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
				c.Abort()
				return
			}
			applySession(c, sess)
			c.Next()
			return
		}

		sess := Session{
			StoreId:  c.Request.Header.Get("x-store-id"),
			UserName: c.Request.Header.Get("x-user-name"),
		}
		if v, err := strconv.Atoi(c.Request.Header.Get("x-user-id")); err == nil {
			sess.UserId = v
		}
		if v, err := strconv.Atoi(c.Request.Header.Get("x-register-id")); err == nil {
			sess.RegisterId = v
		}
		applySession(c, sess)
		c.Next()
	}
}

func applySession(c *gin.Context, sess Session) {
	ctx := c.Request.Context()
	if sess.StoreId != "" {
		ctx = utils.SetStoreIdInContext(ctx, sess.StoreId)
	}
	if sess.UserId != 0 {
		ctx = utils.SetUserIdInContext(ctx, sess.UserId)
	}
	if sess.UserName != "" {
		ctx = utils.SetUserNameInContext(ctx, sess.UserName)
	}
	if sess.RegisterId != 0 {
		ctx = utils.SetRegisterIdInContext(ctx, sess.RegisterId)
	}
	c.Request = c.Request.WithContext(ctx)
}
