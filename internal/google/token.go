package google

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/oauth2"
)

// TokenStore persists the OAuth token between runs.
type TokenStore interface {
	// Load returns nil, nil when no token has been stored yet.
	Load() (*oauth2.Token, error)
	Save(token *oauth2.Token) error
}

// FileTokenStore keeps the token as JSON in a local file.
type FileTokenStore struct {
	Path string
}

func (s FileTokenStore) Load() (*oauth2.Token, error) {
	f, err := os.Open(s.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	tok := &oauth2.Token{}
	if err := json.NewDecoder(f).Decode(tok); err != nil {
		return nil, fmt.Errorf("decode token file %s: %w", s.Path, err)
	}
	return tok, nil
}

func (s FileTokenStore) Save(token *oauth2.Token) error {
	f, err := os.OpenFile(s.Path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("unable to create token file: %w", err)
	}
	return writeToken(f, token)
}

// writeToken encodes the token and closes w, reporting a failed close.
func writeToken(w io.WriteCloser, token *oauth2.Token) error {
	if err := json.NewEncoder(w).Encode(token); err != nil {
		_ = w.Close()
		return fmt.Errorf("encode token: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close token file: %w", err)
	}
	return nil
}

// Authorizer obtains a brand new token, usually with a user present.
type Authorizer interface {
	Authorize(ctx context.Context, config *oauth2.Config) (*oauth2.Token, error)
}

// NonInteractive is used while serving requests, where nobody can answer a prompt.
type NonInteractive struct{}

func (NonInteractive) Authorize(context.Context, *oauth2.Config) (*oauth2.Token, error) {
	return nil, ErrAuthorizationRequired
}

// PromptAuthorizer prints the consent URL and reads the authorization code back.
type PromptAuthorizer struct {
	In  io.Reader
	Out io.Writer
}

func (a PromptAuthorizer) Authorize(ctx context.Context, config *oauth2.Config) (*oauth2.Token, error) {
	authURL := config.AuthCodeURL("state-token", oauth2.AccessTypeOffline, oauth2.ApprovalForce)
	fmt.Fprintf(a.Out, "Go to the following link in your browser then type the "+
		"authorization code: \n%v\n", authURL)
	fmt.Fprint(a.Out, "Enter Authorization Code: ")

	authCode, err := bufio.NewReader(a.In).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to read authorization code: %w", err)
	}
	authCode = strings.TrimSpace(authCode)
	if authCode == "" {
		return nil, errors.New("no authorization code entered")
	}

	token, err := config.Exchange(ctx, authCode)
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve token from web: %w", err)
	}
	return token, nil
}
