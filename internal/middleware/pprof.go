package middleware

import (
	"net/http"
	"net/http/pprof"
	"runtime"

	"github.com/gin-gonic/gin"
)

// RegisterPprof 注册 pprof 调试端点（仅限非生产环境）
func RegisterPprof(r *gin.Engine) {
	group := r.Group("/debug/pprof")
	{
		group.GET("/", gin.WrapF(pprof.Index))
		group.GET("/cmdline", gin.WrapF(pprof.Cmdline))
		group.GET("/profile", gin.WrapF(pprof.Profile))
		group.GET("/symbol", gin.WrapF(pprof.Symbol))
		group.GET("/trace", gin.WrapF(pprof.Trace))
		group.GET("/heap", gin.WrapH(pprof.Handler("heap")))
		group.GET("/goroutine", gin.WrapH(pprof.Handler("goroutine")))
		group.GET("/block", gin.WrapH(pprof.Handler("block")))
		group.GET("/allocs", gin.WrapH(pprof.Handler("allocs")))
	}
}

// ForceGC 手动触发 GC
func ForceGC() gin.HandlerFunc {
	return func(c *gin.Context) {
		runtime.GC()
		c.JSON(http.StatusOK, gin.H{
			"message": "GC triggered successfully",
		})
	}
}
