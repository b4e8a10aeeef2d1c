package main

import (
	"crypto/tls"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"chat/internal/certs"
	"chat/internal/config"
	"chat/internal/server"
)

func main() {
	addr       := flag.String("addr", "", "TCP address to listen on (overrides -port)")
	port       := flag.Int("port", config.DefaultPort, "port to listen on when -addr is not given")
	configPath := flag.String("config", "", "path to a YAML config file (certificate_chain_file, private_key_file)")
	flag.Parse()

	listenAddr := *addr
	if listenAddr == "" {
		listenAddr = fmt.Sprintf(":%d", *port)
	}

	tlsConfig, err := loadTLSConfig(*configPath)
	if err != nil {
		log.Fatalf("init tls: %v", err)
	}

	srv := server.New(tlsConfig)

	// Graceful shutdown on SIGINT / SIGTERM.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		log.Println("[server] shutting down…")
		srv.Shutdown()
	}()

	if err := srv.ListenAndServe(listenAddr); err != nil {
		log.Printf("[server] stopped: %v", err)
	}
}

// loadTLSConfig reads a certificate/key pair named by the config file
// at configPath, if given. Without a config file — or with one that
// names no certificate files — it falls back to a throwaway
// self-signed certificate, which is fine for local development but
// never for a certificate that needs to be trusted by real clients.
func loadTLSConfig(configPath string) (*tls.Config, error) {
	if configPath == "" {
		log.Println("[server] no -config given, using a self-signed development certificate")
		return certs.SelfSigned()
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if !cfg.HasCertificateFiles() {
		log.Println("[server] config names no certificate files, using a self-signed development certificate")
		return certs.SelfSigned()
	}
	return certs.Load(cfg.CertificateChainFile, cfg.PrivateKeyFile)
}
