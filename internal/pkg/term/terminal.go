// Package term реализует интерактивный вход identity через терминал.
package term

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tg"
	"golang.org/x/term"
	"golang.org/x/xerrors"
)

// Terminal обеспечивает интерактивную аутентификацию через терминал.
// Он реализует интерфейс auth.UserAuthenticator.
type Terminal struct {
	phone        string
	in           *bufio.Reader
	out          io.Writer
	readPassword func() ([]byte, error)
}

var _ auth.UserAuthenticator = (*Terminal)(nil)

// NewTerminal создает новый экземпляр Terminal.
// Если phone пуст, номер будет запрошен при входе.
func NewTerminal(phone string) *Terminal {
	fd := int(os.Stdin.Fd())
	return newTerminal(phone, os.Stdin, os.Stdout, func() ([]byte, error) {
		return term.ReadPassword(fd)
	})
}

func newTerminal(phone string, in io.Reader, out io.Writer, readPassword func() ([]byte, error)) *Terminal {
	return &Terminal{
		phone:        phone,
		in:           bufio.NewReader(in),
		out:          out,
		readPassword: readPassword,
	}
}

// Phone возвращает номер телефона, при необходимости запрашивая его.
func (t *Terminal) Phone(_ context.Context) (string, error) {
	if t.phone != "" {
		return t.phone, nil
	}
	phone, err := t.prompt("Enter phone number (international format): ")
	if err != nil {
		return "", xerrors.Errorf("failed to read phone: %w", err)
	}
	if phone == "" {
		return "", xerrors.New("phone number is required")
	}
	t.phone = phone
	return phone, nil
}

// Password запрашивает пароль 2FA.
func (t *Terminal) Password(_ context.Context) (string, error) {
	fmt.Fprint(t.out, "Enter 2FA password: ")
	bytePwd, err := t.readPassword()
	if err != nil {
		return "", xerrors.Errorf("failed to read password: %w", err)
	}
	fmt.Fprintln(t.out) // Новая строка после ввода
	return string(bytePwd), nil
}

// AcceptTermsOfService принимает Условия обслуживания.
func (t *Terminal) AcceptTermsOfService(_ context.Context, tos tg.HelpTermsOfService) error {
	fmt.Fprintf(t.out, "Accepting Terms of Service: %s\n", tos.Text)
	return nil
}

// Code запрашивает код подтверждения.
func (t *Terminal) Code(_ context.Context, _ *tg.AuthSentCode) (string, error) {
	code, err := t.prompt("Enter code: ")
	if err != nil {
		return "", xerrors.Errorf("failed to read code: %w", err)
	}
	return code, nil
}

// SignUp не реализован: отправляющие identity должны быть зарегистрированы заранее.
func (t *Terminal) SignUp(_ context.Context) (auth.UserInfo, error) {
	return auth.UserInfo{}, xerrors.New("signup not implemented")
}

func (t *Terminal) prompt(text string) (string, error) {
	fmt.Fprint(t.out, text)
	line, err := t.in.ReadString('\n')
	if err != nil && !(err == io.EOF && line != "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
