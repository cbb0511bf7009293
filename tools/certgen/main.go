// Package main generates a development CA and a server certificate signed by
// it, writing them to files under the output directory.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/zainulabideen041/storink/internal/certgen"
)

func main() {
	dir := flag.String("dir", "certs", "output directory")
	hosts := flag.String("hosts", "localhost,127.0.0.1", "comma-separated server names and IPs")
	days := flag.Int("days", 365, "server certificate validity in days")
	flag.Parse()

	if err := generate(*dir, splitHosts(*hosts), time.Duration(*days)*24*time.Hour); err != nil {
		fmt.Fprintln(os.Stderr, "certgen:", err)
		os.Exit(1)
	}
	fmt.Printf("Certificates written to %s\n", *dir)
}

func splitHosts(s string) []string {
	var out []string
	for _, h := range strings.Split(s, ",") {
		if h = strings.TrimSpace(h); h != "" {
			out = append(out, h)
		}
	}
	return out
}

// generate writes server.{crt,key} into dir, signed by the CA in dir. A new CA
// is created when dir has none; it outlives the server certificate tenfold.
func generate(dir string, hosts []string, validity time.Duration) error {
	ca, err := certgen.LoadAuthority(filepath.Join(dir, "ca.crt"), filepath.Join(dir, "ca.key"))
	if errors.Is(err, fs.ErrNotExist) {
		ca, err = newAuthority(dir, 10*validity)
	}
	if err != nil {
		return err
	}

	server, err := ca.IssueServer(hosts, validity)
	if err != nil {
		return err
	}
	return certgen.WritePair(dir, "server", server)
}

func newAuthority(dir string, validity time.Duration) (*certgen.Authority, error) {
	ca, err := certgen.NewAuthority("Storink Dev CA", validity)
	if err != nil {
		return nil, err
	}
	p, err := ca.Pair()
	if err != nil {
		return nil, err
	}
	if err := certgen.WritePair(dir, "ca", p); err != nil {
		return nil, err
	}
	return ca, nil
}
