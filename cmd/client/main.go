// Package main is the command-line client of the evidence server.
package main

import (
	"cmp"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/zainulabideen041/storink/internal/certgen"
	"github.com/zainulabideen041/storink/internal/client"
)

var (
	version   string
	buildDate string
)

const usage = `usage: storink [flags] <command> [args]

commands:
  register                     start onboarding (prompts for missing fields)
  verify-email <email> <code>  confirm the emailed code
  login <email>                sign in and save the session
  logout                       forget the saved session
  capture <file> [notes]       hash, upload and record a screenshot
  verify <id> <file>           check a file against a recorded screenshot
  cases                        list your cases with their screenshots
  case-create <title> <id>...  group screenshots into a case

flags:
`

type app struct {
	baseURL     string
	sessionPath string
	http        *http.Client
	in          io.Reader
	out         io.Writer
}

func defaultSessionPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".storink-session.json"
	}
	return filepath.Join(dir, "storink", "session.json")
}

func main() {
	var (
		baseURL     string
		caFile      string
		sessionPath string
		showVer     bool
	)
	flag.StringVar(&baseURL, "url", "", "server base URL (defaults to the saved session, then http://localhost:8080)")
	flag.StringVar(&caFile, "ca", "", "path to a CA certificate to trust (development HTTPS)")
	flag.StringVar(&sessionPath, "session", defaultSessionPath(), "path to the session file")
	flag.BoolVar(&showVer, "version", false, "show build version and date")
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	if showVer {
		fmt.Printf("Storink Client\nVersion: %s\nBuild Date: %s\n", cmp.Or(version, "N/A"), cmp.Or(buildDate, "N/A"))
		return
	}
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	hc := &http.Client{Timeout: 2 * time.Minute}
	if caFile != "" {
		tlsCfg, err := certgen.ClientTLSConfig(caFile)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		hc.Transport = &http.Transport{TLSClientConfig: tlsCfg}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	a := &app{baseURL: baseURL, sessionPath: sessionPath, http: hc, in: os.Stdin, out: os.Stdout}
	if err := a.run(ctx, flag.Args()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// anonymous returns a client without a token.
func (a *app) anonymous() *client.Client {
	base := a.baseURL
	if base == "" {
		if s, err := client.LoadSession(a.sessionPath); err == nil {
			base = s.BaseURL
		}
	}
	return client.New(cmp.Or(base, "http://localhost:8080"), a.http)
}

// authenticated returns a client carrying the saved token.
func (a *app) authenticated() (*client.Client, client.Session, error) {
	s, err := client.LoadSession(a.sessionPath)
	if err != nil {
		if errors.Is(err, client.ErrNoSession) {
			return nil, client.Session{}, errors.New("not logged in; run: storink login <email>")
		}
		return nil, client.Session{}, err
	}
	c := client.New(cmp.Or(a.baseURL, s.BaseURL), a.http)
	c.SetToken(s.Token)
	return c, s, nil
}

func need(args []string, n int, form string) error {
	if len(args) < n {
		return fmt.Errorf("usage: storink %s", form)
	}
	return nil
}

func (a *app) run(ctx context.Context, args []string) error {
	cmd, args := args[0], args[1:]
	prompt := client.NewPrompter(a.in, a.out)

	switch cmd {
	case "register":
		var r client.Registration
		if err := prompt.Fill(&r); err != nil {
			return err
		}
		if err := a.anonymous().Register(ctx, r); err != nil {
			return err
		}
		fmt.Fprintln(a.out, "Verification code sent. Run: storink verify-email", r.Email, "<code>")

	case "verify-email":
		if err := need(args, 2, "verify-email <email> <code>"); err != nil {
			return err
		}
		if err := a.anonymous().VerifyEmail(ctx, args[0], args[1]); err != nil {
			return err
		}
		fmt.Fprintln(a.out, "Email verified. An administrator must approve the account before you can log in.")

	case "login":
		if err := need(args, 1, "login <email>"); err != nil {
			return err
		}
		password, err := prompt.Ask("Password", "")
		if err != nil {
			return err
		}
		c := a.anonymous()
		user, err := c.Login(ctx, args[0], password)
		if err != nil {
			return err
		}
		base := cmp.Or(a.baseURL, "http://localhost:8080")
		if s, err := client.LoadSession(a.sessionPath); err == nil && a.baseURL == "" {
			base = s.BaseURL
		}
		if err := client.SaveSession(a.sessionPath, client.Session{BaseURL: base, Token: c.Token(), User: user}); err != nil {
			return err
		}
		fmt.Fprintf(a.out, "Logged in as %s (%s)\n", user.Name, user.Role)

	case "logout":
		if err := client.ClearSession(a.sessionPath); err != nil {
			return err
		}
		fmt.Fprintln(a.out, "Logged out")

	case "capture":
		if err := need(args, 1, "capture <file> [notes]"); err != nil {
			return err
		}
		c, s, err := a.authenticated()
		if err != nil {
			return err
		}
		content, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		shot, err := c.Capture(ctx, s.User.ID, content, strings.Join(args[1:], " "))
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "Recorded screenshot %s\nsha256 %s\n", shot.ID, shot.SHA256)

	case "verify":
		if err := need(args, 2, "verify <id> <file>"); err != nil {
			return err
		}
		c, _, err := a.authenticated()
		if err != nil {
			return err
		}
		f, err := os.Open(args[1])
		if err != nil {
			return err
		}
		defer f.Close()
		res, err := c.Verify(ctx, args[0], f)
		if err != nil {
			return err
		}
		if !res.Match {
			fmt.Fprintf(a.out, "MISMATCH: recorded %s, file %s\n", res.Expected, res.Actual)
			return errors.New("file does not match the recorded digest")
		}
		fmt.Fprintln(a.out, "OK: file matches the recorded digest")

	case "cases":
		c, s, err := a.authenticated()
		if err != nil {
			return err
		}
		cases, err := c.Cases(ctx, s.User.ID)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tTITLE\tSTATUS\tSCREENSHOTS")
		for _, cs := range cases {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", cs.ID, cs.Title, cs.Status, len(cs.Screenshots))
		}
		return tw.Flush()

	case "case-create":
		if err := need(args, 2, "case-create <title> <screenshot-id>..."); err != nil {
			return err
		}
		c, s, err := a.authenticated()
		if err != nil {
			return err
		}
		created, err := c.CreateCase(ctx, s.User.ID, args[0], "", args[1:])
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "Created case %s with %d screenshots\n", created.ID, len(created.ScreenshotIDs))

	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
	return nil
}
