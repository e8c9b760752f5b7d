// Package server is the single entrypoint cmd/synrelayd calls: it wires
// logging, the app module, the admin API and signal-driven shutdown.
// Grounded on mbp/server/server.go's boot sequence, trimmed of the
// teacher's TLS-vs-plaintext dual-listener HTTP bring-up (this module's
// admin API always serves plaintext behind whatever reverse proxy the
// operator fronts it with — TLS termination is core/stream's concern for
// the syslog listeners, not the admin API's).
package server

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"synrelay/api"
	"synrelay/app"
	"synrelay/common/logx"
)

func Run(cfgPath string) error {
	log := logx.New(logx.WithPrefix("server"))

	a, err := app.New(cfgPath)
	if err != nil {
		return fmt.Errorf("server: app init: %w", err)
	}
	if err := a.Start(); err != nil {
		return fmt.Errorf("server: app start: %w", err)
	}
	log.Infof("server: boot complete")

	r := api.New(a).Router()
	addr := ":8080"
	if a.Cfg.Admin.ListenAddr != "" {
		addr = a.Cfg.Admin.ListenAddr
	}
	httpSrv := &http.Server{Addr: addr, Handler: r}

	go func() {
		log.Infof("server: admin api listening on %s", addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("server: admin api stopped: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	<-ctx.Done()
	stop()
	log.Infof("server: stopping...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("server: admin api shutdown: %v", err)
	}
	if err := a.Stop(); err != nil {
		log.Errorf("server: app stop: %v", err)
	}
	log.Infof("server: bye")
	return nil
}
