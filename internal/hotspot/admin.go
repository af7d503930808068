package hotspot

import (
	"compress/gzip"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"

	"github.com/eliteminer/core/internal/logging"
)

// AttachAdminRoutes mounts a read-only SQL browser and an on-demand backup
// endpoint onto mux, under tsweb's standard /debug/ tree. Every long-running
// eliteminer process exposes this so a user (or the developer, over
// Tailscale) can inspect the live store without shelling into the host.
func (db *DB) AttachAdminRoutes(mux *http.ServeMux) {
	log := logging.WithComponent("hotspot")
	debug := tsweb.Debugger(mux)

	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		log.WithError(err).Fatal("failed to create tailsql server")
	}
	tsql.SetDB("sqlite://hotspots.db", db.DB, &tailsql.DBOptions{
		Label: "Hotspot store",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.Handle("backup", "Create and download a backup of the hotspot store now", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		unixTime := time.Now().Unix()
		backupPath := fmt.Sprintf("hotspots-backup-%d.db", unixTime)
		if _, err := db.DB.Exec("VACUUM INTO ?", backupPath); err != nil {
			http.Error(w, fmt.Sprintf("failed to create backup: %v", err), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.gz", backupPath))
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Encoding", "gzip")

		backupFile, err := os.Open(backupPath)
		if err != nil {
			http.Error(w, fmt.Sprintf("failed to open backup file: %v", err), http.StatusInternalServerError)
			return
		}
		defer func() {
			backupFile.Close()
			if err := os.Remove(backupPath); err != nil {
				log.WithError(err).Warn("failed to remove temporary backup file")
			}
		}()

		gzipWriter := gzip.NewWriter(w)
		defer gzipWriter.Close()
		if _, err := io.Copy(gzipWriter, backupFile); err != nil {
			http.Error(w, fmt.Sprintf("failed to write backup file: %v", err), http.StatusInternalServerError)
			return
		}
	}))
}
