package mail

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gelozr/signin/log"
)

var (
	ErrMailerNotFound = errors.New("mailer not found")
	ErrDriverExists   = errors.New("driver already exists")
	ErrNoRecipients   = errors.New("message has no recipients")
)

type Driver string

const (
	SMTP   = Driver("smtp")
	Log    = Driver("log")
	Custom = Driver("custom")
)

type Mailer interface {
	Send(context.Context, *Message) error
}

type Address struct {
	Name    string
	Address string
}

type Message struct {
	From    Address
	To      []Address
	Subject string
	HTML    string
	Text    string
	Headers map[string]string
}

type Config struct {
	MailDriver        string `yaml:"driver" env:"SIGNIN_MAIL_DRIVER" env-default:"log"`
	MailHost          string `yaml:"host" env:"SIGNIN_MAIL_HOST" env-default:"localhost"`
	MailPort          int    `yaml:"port" env:"SIGNIN_MAIL_PORT" env-default:"587"`
	MailUser          string `yaml:"user" env:"SIGNIN_MAIL_USER"`
	MailPass          string `yaml:"pass" env:"SIGNIN_MAIL_PASS"`
	MailTLS           bool   `yaml:"tls" env:"SIGNIN_MAIL_TLS" env-default:"true"`
	MailSkipTLSVerify bool   `yaml:"skip_tls_verify" env:"SIGNIN_MAIL_SKIP_TLS_VERIFY"`
	MailFrom          string `yaml:"from" env:"SIGNIN_MAIL_FROM" env-default:"no-reply@localhost"`
	MailFromName      string `yaml:"from_name" env:"SIGNIN_MAIL_FROM_NAME" env-default:"Sign-in"`
}

// Manager routes messages to a registered driver, the default one unless
// asked otherwise.
type Manager struct {
	mu            sync.RWMutex
	mailers       map[Driver]Mailer
	defaultDriver Driver
}

var _ Mailer = (*Manager)(nil)

// NewManager registers the SMTP and log drivers from cfg.
func NewManager(cfg Config, logger log.Logger) (*Manager, error) {
	smtp, err := NewSMTPMailer(cfg)
	if err != nil {
		return nil, fmt.Errorf("smtp mailer: %w", err)
	}

	return &Manager{
		mailers: map[Driver]Mailer{
			SMTP: smtp,
			Log:  NewLogMailer(logger),
		},
		defaultDriver: getDefaultDriver(cfg),
	}, nil
}

func (m *Manager) Mailer(driver Driver) (Mailer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if ml, ok := m.mailers[driver]; ok {
		return ml, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrMailerNotFound, driver)
}

func (m *Manager) Send(ctx context.Context, msg *Message) error {
	m.mu.RLock()
	driver := m.defaultDriver
	m.mu.RUnlock()

	mailer, err := m.Mailer(driver)
	if err != nil {
		return err
	}

	return mailer.Send(ctx, msg)
}

func (m *Manager) RegisterDriver(driver Driver, mailer Mailer) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.mailers[driver]; ok {
		return fmt.Errorf("%w: %s", ErrDriverExists, driver)
	}

	m.mailers[driver] = mailer
	return nil
}

func (m *Manager) SetDefaultDriver(driver Driver) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.mailers[driver]; !ok {
		return fmt.Errorf("%w: %s", ErrMailerNotFound, driver)
	}

	m.defaultDriver = driver
	return nil
}

func getDefaultDriver(cfg Config) Driver {
	defaultDriver := Log
	if cfg.MailDriver != "" {
		defaultDriver = Driver(cfg.MailDriver)
	}
	return defaultDriver
}
