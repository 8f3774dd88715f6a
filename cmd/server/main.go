// Command server wires a mailbox.Set backend, bearer-token
// verification, and the session engine together behind plain TCP
// listeners. Wire-protocol parsing (the IMAP command stream itself) is
// intentionally not this program's concern: it is expected to sit in
// front of session.Session, translating parsed commands into calls
// against it and formatting replies — that translation layer is the
// part every deployment customizes, so it lives outside this module.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"os"

	"golang.org/x/sync/errgroup"

	"mailsession/internal/auth"
	"mailsession/internal/backend/blob"
	"mailsession/internal/backend/sqlite"
	"mailsession/internal/conf"
	"mailsession/internal/session"
)

func main() {
	configPath := flag.String("config", "", "Path to mailsession.yaml (overrides the default search path)")
	flag.Parse()

	cfg, err := conf.Load("mailsession", *configPath)
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}

	ctx := context.Background()

	db, err := sqlite.Open(cfg.Backend.SQLitePath)
	if err != nil {
		log.Fatal("Failed to open database:", err)
	}
	defer db.Close()

	sqliteCfg := sqlite.Config{Delimiter: "/"}
	if cfg.Backend.Blob != nil {
		store, err := blob.New(ctx, blob.Options{
			Bucket:          cfg.Backend.Blob.Bucket,
			Prefix:          cfg.Backend.Blob.Prefix,
			Region:          cfg.Backend.Blob.Region,
			Endpoint:        cfg.Backend.Blob.Endpoint,
			AccessKeyID:     cfg.Backend.Blob.AccessKeyID,
			SecretAccessKey: cfg.Backend.Blob.SecretAccessKey,
		})
		if err != nil {
			log.Fatal("Failed to initialize blob store:", err)
		}
		sqliteCfg.Blobs = store
		sqliteCfg.Threshold = cfg.Backend.Blob.ThresholdBytes
		log.Printf("Body offload enabled: bucket=%s threshold=%d bytes", cfg.Backend.Blob.Bucket, cfg.Backend.Blob.ThresholdBytes)
	}

	set := sqlite.NewSet(db, sqliteCfg)
	sess := session.New(set)

	var verifier *auth.Verifier
	if cfg.Auth.HMACKeyFile != "" {
		key, err := os.ReadFile(cfg.Auth.HMACKeyFile)
		if err != nil {
			log.Fatal("Failed to read HMAC key file:", err)
		}
		verifier = auth.NewVerifier(key)
	}

	listen := cfg.Listen
	if listen == "" {
		listen = "0.0.0.0:143"
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return serve(gctx, listen, sess, verifier)
	})

	if err := g.Wait(); err != nil {
		log.Fatal("Server exited:", err)
	}
}

func serve(ctx context.Context, addr string, sess *session.Session, verifier *auth.Verifier) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	defer ln.Close()
	log.Printf("mailsession server listening on %s", addr)

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
				log.Println("accept error:", err)
				continue
			}
		}
		log.Printf("new connection from %s", conn.RemoteAddr())
		go handleConnection(conn, sess, verifier)
	}
}

// handleConnection authenticates one connection (when a verifier is
// configured), logs it, and closes it; no commands are read or served.
// The framing used here (a single bearer token line, then nothing) is
// a placeholder for whatever real wire protocol a deployment layers on
// top of session.Session.
func handleConnection(conn net.Conn, sess *session.Session, verifier *auth.Verifier) {
	defer conn.Close()

	if verifier != nil {
		buf := make([]byte, 4096)
		n, err := conn.Read(buf)
		if err != nil {
			log.Printf("read auth token from %s: %v", conn.RemoteAddr(), err)
			return
		}
		if _, err := verifier.Verify(string(buf[:n])); err != nil {
			log.Printf("auth failed for %s: %v", conn.RemoteAddr(), err)
			return
		}
	}

	log.Printf("session established for %s, delimiter=%s", conn.RemoteAddr(), sess.Set.Delimiter())
}
