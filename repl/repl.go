package main

import (
	"bufio"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"github.com/MbeleckBerle/ssl-server/protocol"
	"github.com/ergochat/readline"
	"gopkg.in/ini.v1"
)

// REPL per se: an interactive client for the search service. Every
// line typed is a query; the server's single-line response is printed
// back. "exit"/"quit" go to the server too, which answers with the
// farewell and closes.
type REPL struct {
	rl     *readline.Instance
	conn   net.Conn
	reader *bufio.Reader
}

var completer = readline.NewPrefixCompleter(
	readline.PcItem("help"),

	readline.PcItem("exit"),
	readline.PcItem("quit"),
)

func filterInput(r rune) (rune, bool) {
	switch r {
	// block CtrlZ feature
	case readline.CharCtrlZ:
		return r, false
	}
	return r, true
}

func (repl *REPL) Open(addr string, tlsConf *tls.Config) (err error) {
	repl.rl, err = readline.NewEx(&readline.Config{
		Prompt:          "? ",
		HistoryFile:     ".ssl_client_log.txt",
		AutoComplete:    completer,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",

		FuncFilterInputRune: filterInput,
	})
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	repl.conn, err = protocol.Dial(ctx, addr, tlsConf)
	if err != nil {
		return
	}
	repl.reader = bufio.NewReader(repl.conn)

	// The server greets first.
	greeting, err := repl.reader.ReadString('\n')
	if err != nil {
		return
	}
	repl.println(strings.TrimRight(greeting, "\n"))
	return
}

func (repl *REPL) Close() {
	if repl.conn != nil {
		repl.conn.Close()
	}
	if repl.rl != nil {
		repl.rl.Close()
	}
}

func (repl *REPL) println(line string) {
	io.WriteString(repl.rl.Stdout(), line+"\n")
}

// Ask sends one query and returns the server's response line.
func (repl *REPL) Ask(query string) (string, error) {
	if _, err := repl.conn.Write([]byte(query)); err != nil {
		return "", err
	}
	resp, err := repl.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(resp, "\n"), nil
}

func (repl *REPL) Run() {
	for {
		line, err := repl.rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if err != nil {
			line = "exit"
		}

		line = strings.TrimSpace(line)
		if line == "help" {
			repl.println("type a line of text to check it against the server's reference file")
			repl.println("exit | quit closes the connection")
			continue
		}
		if line == "" {
			line = " " // let the server answer ERROR: EMPTY QUERY
		}

		resp, err := repl.Ask(line)
		if err != nil {
			repl.println("connection lost: " + err.Error())
			return
		}
		repl.println(resp)

		if protocol.IsExit(line) {
			return
		}
	}
}

// loadClientConfig reads the optional client INI: SSL_ENABLED and
// SERVER_CERT (the CA to trust for the server's certificate).
func loadClientConfig(path string) (ssl bool, tlsConf *tls.Config, err error) {
	if _, serr := os.Stat(path); serr != nil {
		return false, nil, nil
	}
	cfg, err := ini.Load(path)
	if err != nil {
		return false, nil, err
	}
	sec := cfg.Section(ini.DefaultSection)
	if !sec.Key("SSL_ENABLED").MustBool(false) {
		return false, nil, nil
	}

	tlsConf = &tls.Config{MinVersion: tls.VersionTLS12}
	if cert := sec.Key("SERVER_CERT").String(); cert != "" {
		pem, rerr := os.ReadFile(cert)
		if rerr != nil {
			return true, nil, rerr
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return true, nil, errors.New("bad server certificate")
		}
		tlsConf.RootCAs = pool
	} else {
		tlsConf.InsecureSkipVerify = true
	}
	return true, tlsConf, nil
}
