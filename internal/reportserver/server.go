// Package reportserver exposes unification runs and their archives over HTTP.
package reportserver

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/r9s-ai/proxy-unifier/pkg/unifier"
)

// UnifyFunc unifies the named proxy directories.
type UnifyFunc func(ctx context.Context, proxies []string) unifier.Report

type Server struct {
	sourceDir string
	bundleDir string
	unify     UnifyFunc
	log       *zap.Logger

	running sync.Mutex

	mu   sync.RWMutex
	last *unifier.Report
}

func New(sourceDir, bundleDir string, unify UnifyFunc, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{sourceDir: sourceDir, bundleDir: bundleDir, unify: unify, log: log}
}

// Record makes r the report served by /api/runs/last.
func (s *Server) Record(r unifier.Report) {
	s.mu.Lock()
	s.last = &r
	s.mu.Unlock()
}

func (s *Server) Last() (unifier.Report, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.last == nil {
		return unifier.Report{}, false
	}
	return *s.last, true
}

func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(requestIDMiddleware(RequestIDHeader))
	r.Use(requestLogger(s.log, RequestIDHeader))
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	api := r.Group("/api")
	api.GET("/proxies", s.listProxies)
	api.POST("/unify", s.runUnify)
	api.GET("/runs/last", s.lastRun)
	api.GET("/bundles", s.listBundles)
	api.GET("/bundles/:name", s.downloadBundle)
	return r
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("report server listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		<-errCh
		return nil
	}
}

func (s *Server) listProxies(c *gin.Context) {
	proxies, err := unifier.ListProxies(s.sourceDir)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if proxies == nil {
		proxies = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"proxies": proxies})
}

type unifyRequest struct {
	Proxies []string `json:"proxies"`
}

// runUnify runs synchronously; an empty proxy list means every proxy.
func (s *Server) runUnify(c *gin.Context) {
	var req unifyRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	known, err := unifier.ListProxies(s.sourceDir)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	proxies := req.Proxies
	if len(proxies) == 0 {
		proxies = known
	} else if unknown := missing(proxies, known); len(unknown) > 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown proxies", "proxies": unknown})
		return
	}

	if !s.running.TryLock() {
		c.JSON(http.StatusConflict, gin.H{"error": "a unification run is already in progress"})
		return
	}
	defer s.running.Unlock()

	report := s.unify(c.Request.Context(), proxies)
	s.Record(report)
	c.JSON(http.StatusOK, report)
}

func (s *Server) lastRun(c *gin.Context) {
	r, ok := s.Last()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no run recorded yet"})
		return
	}
	c.JSON(http.StatusOK, r)
}

type archiveInfo struct {
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	ModifiedAt time.Time `json:"modified_at"`
}

func (s *Server) listBundles(c *gin.Context) {
	entries, err := os.ReadDir(s.bundleDir)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	out := []archiveInfo{}
	for _, ent := range entries {
		if ent.IsDir() || filepath.Ext(ent.Name()) != ".zip" {
			continue
		}
		info, err := ent.Info()
		if err != nil {
			continue
		}
		out = append(out, archiveInfo{
			Name:       strings.TrimSuffix(ent.Name(), ".zip"),
			Size:       info.Size(),
			ModifiedAt: info.ModTime().UTC(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	c.JSON(http.StatusOK, gin.H{"bundles": out})
}

func (s *Server) downloadBundle(c *gin.Context) {
	name := strings.TrimSuffix(c.Param("name"), ".zip")
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid bundle name"})
		return
	}
	path := filepath.Join(s.bundleDir, name+".zip")
	if st, err := os.Stat(path); err != nil || st.IsDir() {
		c.JSON(http.StatusNotFound, gin.H{"error": "bundle not found"})
		return
	}
	c.FileAttachment(path, name+".zip")
}

func missing(want, known []string) []string {
	set := make(map[string]struct{}, len(known))
	for _, k := range known {
		set[k] = struct{}{}
	}
	var out []string
	for _, w := range want {
		if _, ok := set[w]; !ok {
			out = append(out, w)
		}
	}
	return out
}
