package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/anthonyharley32/chatsync/internal/client/ratelimit"
	"github.com/anthonyharley32/chatsync/internal/common"
)

// getSimpleText and getPassword are indirections used to facilitate
// testing. They point to the interactive input helpers.
var getSimpleText = GetSimpleText
var getPassword = GetPassword

// Register prompts for email, password and display name and creates an
// account. On success the session is connected immediately.
func (a *App) Register(ctx context.Context) error {
	email, err := getSimpleText(a.reader, "Enter email", os.Stdout)
	if err != nil {
		return err
	}

	password, err := getPassword(os.Stdout)
	if err != nil {
		return err
	}
	defer common.WipeBytes(password)

	displayName, err := getSimpleText(a.reader, "Enter display name (empty to derive from email)", os.Stdout)
	if err != nil {
		return err
	}

	user, err := a.api.Register(ctx, email, string(password), displayName)
	if err != nil {
		return err
	}

	fmt.Println("Welcome,", user.DisplayName)
	a.connect(ctx, user)
	return nil
}

// Login prompts for credentials. Attempts run through the local limiter
// first: a blocked identifier is refused before any network call, with the
// remaining cooldown in the message. A successful login clears the
// identifier's attempt history.
func (a *App) Login(ctx context.Context) error {
	email, err := getSimpleText(a.reader, "Enter email", os.Stdout)
	if err != nil {
		return err
	}
	email = strings.ToLower(email)

	res := a.limiter.Check(ratelimit.LoginKey(email))
	if res.Blocked {
		fmt.Printf("Too many attempts. Try again in %s.\n", res.RetryIn.Round(time.Second))
		return nil
	}

	password, err := getPassword(os.Stdout)
	if err != nil {
		return err
	}
	defer common.WipeBytes(password)

	user, err := a.api.Login(ctx, email, string(password))
	if err != nil {
		if errors.Is(err, common.ErrUnauthorized) {
			if res.RemainingAttempts > 0 {
				fmt.Printf("Invalid credentials. %d attempts remaining.\n", res.RemainingAttempts)
			} else {
				fmt.Println("Invalid credentials.")
			}
			return nil
		}
		return err
	}

	a.limiter.Reset(ratelimit.LoginKey(email))
	fmt.Println("Welcome back,", user.DisplayName)
	a.connect(ctx, user)
	return nil
}
