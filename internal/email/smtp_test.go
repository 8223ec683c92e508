package email

import (
	"bufio"
	"net"
	"net/smtp"
	"slices"
	"strings"
	"testing"
)

func TestExtractAddress(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"user@example.com", "user@example.com"},
		{"Alice <alice@example.com>", "alice@example.com"},
		{`"Smith, Bob" <bob@example.com>`, "bob@example.com"},
		{"  <user@test.com> ", "user@test.com"},
		{"", ""},
		{"not an address", "not an address"},
	}
	for _, tt := range tests {
		if got := extractAddress(tt.in); got != tt.want {
			t.Errorf("extractAddress(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCollectRecipients(t *testing.T) {
	got := collectRecipients(
		[]string{"Alice <alice@example.com>", "bob@example.com"},
		[]string{"cc@example.com", ""},
		[]string{"bcc@example.com", "ALICE@example.com"},
	)
	want := []string{"alice@example.com", "bob@example.com", "cc@example.com", "bcc@example.com"}
	if !slices.Equal(got, want) {
		t.Errorf("collectRecipients = %v, want %v", got, want)
	}
	if got := collectRecipients(nil, nil); len(got) != 0 {
		t.Errorf("empty lists = %v", got)
	}
}

// fakeSMTP answers one transaction on conn and returns the commands
// and message body it received.
func fakeSMTP(t *testing.T, conn net.Conn) (<-chan []string, <-chan string) {
	t.Helper()
	cmds := make(chan []string, 1)
	body := make(chan string, 1)
	go func() {
		defer conn.Close()
		r := bufio.NewReader(conn)
		reply := func(s string) { _, _ = conn.Write([]byte(s + "\r\n")) }
		var seen []string
		reply("220 fake ESMTP")
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				cmds <- seen
				return
			}
			line = strings.TrimRight(line, "\r\n")
			seen = append(seen, line)
			switch verb := strings.ToUpper(strings.Fields(line)[0]); verb {
			case "EHLO":
				reply("250-fake")
				reply("250 8BITMIME")
			case "DATA":
				reply("354 end with .")
				var b strings.Builder
				for {
					l, err := r.ReadString('\n')
					if err != nil || l == ".\r\n" {
						break
					}
					b.WriteString(l)
				}
				body <- b.String()
				reply("250 queued")
			case "QUIT":
				reply("221 bye")
				cmds <- seen
				return
			default:
				reply("250 ok")
			}
		}
	}()
	return cmds, body
}

func TestDeliver(t *testing.T) {
	client, server := net.Pipe()
	cmds, body := fakeSMTP(t, server)

	c, err := smtp.NewClient(client, "mail.example.com")
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	msg := []byte("Subject: hi\r\n\r\nhello\r\n")
	err = deliver(c, SMTPConfig{Host: "mail.example.com"}, "me@example.com",
		[]string{"a@example.com", "b@example.com"}, msg)
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}

	if got := <-body; got != string(msg) {
		t.Errorf("body = %q", got)
	}
	got := <-cmds
	var rcpts int
	for _, cmd := range got {
		if strings.HasPrefix(cmd, "RCPT TO:") {
			rcpts++
		}
	}
	if rcpts != 2 {
		t.Errorf("RCPT commands = %d, want 2 (%v)", rcpts, got)
	}
	if !strings.HasPrefix(got[1], "MAIL FROM:<me@example.com>") {
		t.Errorf("MAIL command = %q", got[1])
	}
}

func TestSendMail_NoRecipients(t *testing.T) {
	err := SendMail(t.Context(), SMTPConfig{Host: "localhost", Port: 1}, "me@example.com", nil, []byte("x"))
	if err == nil || !strings.Contains(err.Error(), "no recipients") {
		t.Errorf("err = %v", err)
	}
}
