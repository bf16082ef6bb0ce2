package parser

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const plainMessage = "From: Alice Example <alice@example.com>\r\n" +
	"To: bob@example.com\r\n" +
	"Subject: Midterm exam schedule\r\n" +
	"Date: Mon, 02 Sep 2024 10:00:00 +0000\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"The midterm exam is on Friday.\r\n"

const multipartMessage = "From: registrar@example.edu\r\n" +
	"Subject: Registration deadline\r\n" +
	"Date: Tue, 03 Sep 2024 08:30:00 +0000\r\n" +
	"Message-ID: <abc123@example.edu>\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/alternative; boundary=\"BOUNDARY\"\r\n" +
	"\r\n" +
	"--BOUNDARY\r\n" +
	"Content-Type: text/html; charset=utf-8\r\n" +
	"\r\n" +
	"<p>Register by Sunday</p>\r\n" +
	"--BOUNDARY\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"Register by Sunday\r\n" +
	"--BOUNDARY--\r\n"

const htmlOnlyMessage = "From: events@example.org\r\n" +
	"Subject: Career fair\r\n" +
	"Date: Wed, 04 Sep 2024 12:00:00 +0000\r\n" +
	"Content-Type: text/html; charset=utf-8\r\n" +
	"\r\n" +
	"<h1>Career fair on Thursday</h1>\r\n"

func TestParse(t *testing.T) {
	now := time.Date(2024, 9, 10, 0, 0, 0, 0, time.UTC)

	t.Run("纯文本邮件", func(t *testing.T) {
		msg, err := Parse([]byte(plainMessage), Meta{SeqNum: 7, Now: now})
		require.NoError(t, err)

		assert.Equal(t, "Alice Example", msg.Sender)
		assert.Equal(t, "Midterm exam schedule", msg.Subject)
		assert.Equal(t, "The midterm exam is on Friday.", strings.TrimSpace(msg.Body))
		assert.True(t, msg.Date.Equal(time.Date(2024, 9, 2, 10, 0, 0, 0, time.UTC)))
	})

	t.Run("多部分邮件优先使用纯文本", func(t *testing.T) {
		msg, err := Parse([]byte(multipartMessage), Meta{SeqNum: 1, Now: now})
		require.NoError(t, err)

		assert.Equal(t, "registrar@example.edu", msg.Sender)
		assert.Equal(t, "Register by Sunday", strings.TrimSpace(msg.Body))
		assert.Equal(t, "abc123@example.edu", msg.ID)
	})

	t.Run("仅有HTML时回退到HTML", func(t *testing.T) {
		msg, err := Parse([]byte(htmlOnlyMessage), Meta{SeqNum: 2, Now: now})
		require.NoError(t, err)
		assert.Contains(t, msg.Body, "<h1>Career fair on Thursday</h1>")
	})

	t.Run("缺少主题与正文时使用占位", func(t *testing.T) {
		raw := "From: someone@example.com\r\nDate: Mon, 02 Sep 2024 10:00:00 +0000\r\n\r\n"
		msg, err := Parse([]byte(raw), Meta{SeqNum: 3, Now: now})
		require.NoError(t, err)
		assert.Equal(t, NoSubject, msg.Subject)
		assert.Equal(t, "", strings.TrimSpace(msg.Body))
	})

	t.Run("缺少发件人时使用占位", func(t *testing.T) {
		raw := "Subject: hello\r\n\r\nbody\r\n"
		msg, err := Parse([]byte(raw), Meta{SeqNum: 3, Now: now})
		require.NoError(t, err)
		assert.Equal(t, UnknownSender, msg.Sender)
	})

	t.Run("服务器内部时间优先于邮件头", func(t *testing.T) {
		internal := time.Date(2024, 9, 5, 9, 0, 0, 0, time.UTC)
		msg, err := Parse([]byte(plainMessage), Meta{SeqNum: 7, InternalDate: internal, Now: now})
		require.NoError(t, err)
		assert.True(t, msg.Date.Equal(internal))
	})

	t.Run("无法解析的日期回退到当前时间", func(t *testing.T) {
		raw := strings.Replace(plainMessage, "Mon, 02 Sep 2024 10:00:00 +0000", "not a date", 1)
		msg, err := Parse([]byte(raw), Meta{SeqNum: 7, Now: now})
		require.NoError(t, err)
		assert.True(t, msg.Date.Equal(now))
	})

	t.Run("信封Message-ID优先", func(t *testing.T) {
		msg, err := Parse([]byte(multipartMessage), Meta{SeqNum: 1, MessageID: "<envelope@example.edu>", Now: now})
		require.NoError(t, err)
		assert.Equal(t, "envelope@example.edu", msg.ID)
	})

	t.Run("空内容返回错误", func(t *testing.T) {
		_, err := Parse([]byte("   "), Meta{})
		assert.Error(t, err)
	})

	t.Run("损坏的邮件头返回错误", func(t *testing.T) {
		_, err := Parse([]byte("this is not a header line\r\n\r\nbody"), Meta{})
		assert.Error(t, err)
	})
}

func TestParse_StableDerivedIdentity(t *testing.T) {
	raw := []byte(plainMessage)

	first, err := Parse(raw, Meta{SeqNum: 11, Now: time.Now()})
	require.NoError(t, err)
	second, err := Parse(raw, Meta{SeqNum: 11, Now: time.Now().Add(time.Hour)})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Regexp(t, `^[A-Za-z0-9_-]+$`, first.ID)
}

func TestParse_IdentityIgnoresFallbackClock(t *testing.T) {
	raw := []byte("From: a@example.com\r\nSubject: no date here\r\n\r\nbody\r\n")

	first, err := Parse(raw, Meta{SeqNum: 4, Now: time.Unix(100, 0)})
	require.NoError(t, err)
	second, err := Parse(raw, Meta{SeqNum: 4, Now: time.Unix(200, 0)})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.NotEqual(t, first.Date, second.Date)
}

func TestDeriveID(t *testing.T) {
	date := time.UnixMilli(1725271200000)

	tests := []struct {
		name      string
		messageID string
		seq       uint32
		subject   string
		sender    string
		want      string
	}{
		{
			name:      "使用协议标识",
			messageID: "<id-1@example.com>",
			want:      "id-1@example.com",
		},
		{
			name:    "组合标识并清洗字符",
			seq:     5,
			subject: "Hello, World!",
			sender:  "Alice <a@b.c>",
			want:    "5_Hello__World__1725271200000_Alice__a_b_c_",
		},
		{
			name:    "截断过长的主题与发件人",
			seq:     9,
			subject: "abcdefghijklmnopqrstuvwxyz",
			sender:  "0123456789012345678901234",
			want:    "9_abcdefghijklmnopqrst_1725271200000_01234567890123456789",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DeriveID(tt.messageID, tt.seq, tt.subject, date, tt.sender))
		})
	}
}

func TestResolveDate(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	internal := time.Date(2023, 5, 1, 0, 0, 0, 0, time.UTC)
	header := time.Date(2023, 4, 1, 0, 0, 0, 0, time.UTC)

	got, trusted := ResolveDate(internal, header, nil, now)
	assert.Equal(t, internal, got)
	assert.True(t, trusted)

	got, trusted = ResolveDate(time.Time{}, header, nil, now)
	assert.Equal(t, header, got)
	assert.True(t, trusted)

	got, trusted = ResolveDate(time.Time{}, time.Time{}, errors.New("bad date"), now)
	assert.Equal(t, now, got)
	assert.False(t, trusted)
}
