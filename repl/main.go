package main

import (
	"flag"
	"fmt"
	"os"
)

func main() {
	host := flag.String("host", "127.0.0.1", "server host")
	port := flag.Int("port", 44445, "server port")
	config := flag.String("config", "client_config.ini", "client configuration file")
	flag.Parse()

	ssl, tlsConf, err := loadClientConfig(*config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: client configuration: %v\n", err)
		os.Exit(1)
	}

	scheme := "tcp"
	if ssl {
		scheme = "tls"
	}
	addr := fmt.Sprintf("%s://%s:%d", scheme, *host, *port)

	repl := &REPL{}
	if err := repl.Open(addr, tlsConf); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: cannot connect to %s: %v\n", addr, err)
		os.Exit(1)
	}
	defer repl.Close()

	repl.Run()
}
