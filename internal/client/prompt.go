package client

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Prompter asks for values on an interactive terminal.
type Prompter struct {
	in  *bufio.Scanner
	out io.Writer
}

// NewPrompter reads answers from in and writes labels to out.
func NewPrompter(in io.Reader, out io.Writer) *Prompter {
	return &Prompter{in: bufio.NewScanner(in), out: out}
}

// Ask prints label and returns the trimmed answer. An empty answer yields def.
func (p *Prompter) Ask(label, def string) (string, error) {
	if def != "" {
		fmt.Fprintf(p.out, "%s [%s]: ", label, def)
	} else {
		fmt.Fprintf(p.out, "%s: ", label)
	}
	if !p.in.Scan() {
		if err := p.in.Err(); err != nil {
			return "", err
		}
		return "", io.ErrUnexpectedEOF
	}
	answer := strings.TrimSpace(p.in.Text())
	if answer == "" {
		return def, nil
	}
	return answer, nil
}

// Fill asks for every field of r that is still empty. Optional profile fields
// may be left blank.
func (p *Prompter) Fill(r *Registration) error {
	fields := []struct {
		label    string
		dst      *string
		required bool
	}{
		{"Name", &r.Name, true},
		{"Email", &r.Email, true},
		{"Password", &r.Password, true},
		{"Identity (optional)", &r.Identity, false},
		{"Job title (optional)", &r.JobTitle, false},
		{"Usage purpose (optional)", &r.UsagePurpose, false},
	}
	for _, f := range fields {
		if *f.dst != "" {
			continue
		}
		v, err := p.Ask(f.label, "")
		if err != nil {
			return err
		}
		if v == "" && f.required {
			return fmt.Errorf("%s is required", strings.ToLower(f.label))
		}
		*f.dst = v
	}
	return nil
}
