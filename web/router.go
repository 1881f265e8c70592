package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/deemkeen/bookfed/activitypub"
	"github.com/deemkeen/bookfed/db"
	"github.com/deemkeen/bookfed/util"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const contentTypeActivity = activitypub.ContentTypeActivityJSON + "; charset=utf-8"

// NewRouter wires the federation endpoints.
func NewRouter(conf *util.AppConfig, database *db.DB, dispatcher *activitypub.Dispatcher) *gin.Engine {
	g := gin.New()
	g.Use(gin.Recovery(), RequestLogger())
	g.Use(gzip.Gzip(gzip.DefaultCompression))

	// Global rate limiter: 10 requests per second per IP, burst of 20
	globalLimiter := NewRateLimiter(rate.Limit(10), 20)
	g.Use(RateLimitMiddleware(globalLimiter))

	// Stricter limit for inbox deliveries
	inboxLimiter := NewRateLimiter(rate.Limit(conf.Conf.InboxRate), conf.Conf.InboxBurst)
	maxBodySize := MaxBytesMiddleware(conf.Conf.MaxBodyBytes)

	g.POST("/inbox", RateLimitMiddleware(inboxLimiter), maxBodySize, func(c *gin.Context) {
		dispatcher.HandleInbox(c.Writer, c.Request, "")
	})

	g.POST("/user/:username/inbox", RateLimitMiddleware(inboxLimiter), maxBodySize, func(c *gin.Context) {
		dispatcher.HandleInbox(c.Writer, c.Request, c.Param("username"))
	})

	g.GET("/user/:username", func(c *gin.Context) {
		actor, err := GetActor(c.Request.Context(), database, c.Param("username"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
			return
		}
		renderActivity(c, actor)
	})

	g.GET("/.well-known/webfinger", func(c *gin.Context) {
		resp, err := GetWebfinger(c.Request.Context(), database, conf, c.Query("resource"))
		if err != nil {
			c.JSON(http.StatusNotFound, GetWebFingerNotFound())
			return
		}
		c.Header("Content-Type", "application/jrd+json; charset=utf-8")
		c.JSON(http.StatusOK, resp)
	})

	g.GET("/.well-known/nodeinfo", func(c *gin.Context) {
		c.JSON(http.StatusOK, GetNodeInfoLinks(conf))
	})

	g.GET("/nodeinfo/2.0", func(c *gin.Context) {
		info, err := GetNodeInfo(c.Request.Context(), database)
		if err != nil {
			log.Error().Err(err).Msg("Web: failed to build nodeinfo")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
			return
		}
		c.JSON(http.StatusOK, info)
	})

	g.GET("/health", func(c *gin.Context) {
		queued, err := database.CountJobs(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "version": util.GetVersion(), "queued_jobs": queued})
	})

	g.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return g
}

func renderActivity(c *gin.Context, v any) {
	c.Header("Content-Type", contentTypeActivity)
	c.JSON(http.StatusOK, v)
}

// Serve runs handler on the configured address until ctx is cancelled.
func Serve(ctx context.Context, conf *util.AppConfig, handler http.Handler) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", conf.Conf.Host, conf.Conf.HttpPort),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("Web: starting HTTP server")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("Web: stopping HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
