package templates

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	textTemplate "text/template"

	"gopkg.in/yaml.v3"
)

//go:embed messages/*
var messageTemplates embed.FS

// Config holds notification copy from notifications.yaml
type Config struct {
	Branding struct {
		Name         string `yaml:"name"`
		DashboardURL string `yaml:"dashboard_url"`
	} `yaml:"branding"`

	Reminder MessageConfig `yaml:"reminder"`
	Digest   MessageConfig `yaml:"digest"`
}

// MessageConfig is a subject and a plain text body, both text/template sources
type MessageConfig struct {
	Subject string `yaml:"subject"`
	Text    string `yaml:"text"`
}

// LoadConfig loads notification copy from the embedded notifications.yaml
func LoadConfig() (*Config, error) {
	data, err := messageTemplates.ReadFile("messages/notifications.yaml")
	if err != nil {
		return nil, fmt.Errorf("failed to read notification config: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse notification config: %w", err)
	}

	return &config, nil
}

// ReminderData holds data for the overdue PCN reminder
type ReminderData struct {
	BrandName        string
	CompanyName      string
	AppointmentTitle string
	CloserID         string
	ScheduledAt      string
	OverdueFor       string
	PCNURL           string
}

// DigestData holds data for the weekly company digest
type DigestData struct {
	BrandName     string
	CompanyName   string
	DashboardURL  string
	WeekStart     string
	WeekEnd       string
	Total         int
	Included      int
	Excluded      int
	Unknown       int
	Submitted     int
	Missing       int
	CashCollected float64
}

// Rendered is a message ready for delivery
type Rendered struct {
	Subject string
	Text    string
	HTML    string
}

// RenderReminder renders the reminder subject and text
func (c *Config) RenderReminder(data ReminderData) (*Rendered, error) {
	subject, err := renderText("reminder-subject", c.Reminder.Subject, data)
	if err != nil {
		return nil, err
	}
	text, err := renderText("reminder-text", c.Reminder.Text, data)
	if err != nil {
		return nil, err
	}
	return &Rendered{Subject: subject, Text: text}, nil
}

// RenderDigest renders the digest subject, text and HTML body
func (c *Config) RenderDigest(data DigestData) (*Rendered, error) {
	subject, err := renderText("digest-subject", c.Digest.Subject, data)
	if err != nil {
		return nil, err
	}
	text, err := renderText("digest-text", c.Digest.Text, data)
	if err != nil {
		return nil, err
	}
	html, err := renderDigestHTML(data)
	if err != nil {
		return nil, err
	}
	return &Rendered{Subject: subject, Text: text, HTML: html}, nil
}

func renderText(name, source string, data interface{}) (string, error) {
	tmpl, err := textTemplate.New(name).Option("missingkey=error").Parse(source)
	if err != nil {
		return "", fmt.Errorf("failed to parse %s template: %w", name, err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute %s template: %w", name, err)
	}

	return buf.String(), nil
}

func renderDigestHTML(data DigestData) (string, error) {
	tmplData, err := messageTemplates.ReadFile("messages/digest.html")
	if err != nil {
		return "", fmt.Errorf("failed to read digest.html: %w", err)
	}

	tmpl, err := template.New("digest").Parse(string(tmplData))
	if err != nil {
		return "", fmt.Errorf("failed to parse digest template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute digest template: %w", err)
	}

	return buf.String(), nil
}
