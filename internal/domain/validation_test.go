package domain

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateAddress(t *testing.T) {
	tests := []struct {
		name     string
		email    string
		want     string
		expected bool
	}{
		{"Valid email", "test@example.com", "test@example.com", true},
		{"Valid email with subdomain", "user@mail.example.com", "user@mail.example.com", true},
		{"Valid email with plus", "user+tag@example.com", "user+tag@example.com", true},
		{"Valid email with display name", "Alice <alice@example.com>", "alice@example.com", true},
		{"Valid email with spaces around", "  bob@example.edu ", "bob@example.edu", true},
		{"Invalid email - no @", "testexample.com", "", false},
		{"Invalid email - no domain", "test@", "", false},
		{"Invalid email - no local part", "@example.com", "", false},
		{"Invalid email - multiple @", "test@@example.com", "", false},
		{"Invalid email - empty", "", "", false},
		{"Invalid email - bare host", "test@localhost", "", false},
		{"Invalid email - too long", strings.Repeat("a", 250) + "@example.com", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidateAddress(tt.email)
			if tt.expected {
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestValidateSubject(t *testing.T) {
	tests := []struct {
		name     string
		subject  string
		expected bool
	}{
		{"Valid subject", "Test Subject", true},
		{"Valid empty subject", "", true},
		{"Valid subject with special chars", "Re: Important Meeting!", true},
		{"Invalid - too long", strings.Repeat("s", MaxSubjectLength+1), false},
		{"Invalid - header injection", "Subject\r\nBcc: victim@example.com", false},
		{"Invalid - tabs", "Subject\twith\ttabs", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ValidateSubject(tt.subject))
		})
	}
}

func TestValidateMessageBody(t *testing.T) {
	assert.True(t, ValidateMessageBody(""))
	assert.True(t, ValidateMessageBody("Line 1\nLine 2"))
	assert.False(t, ValidateMessageBody(strings.Repeat("x", MaxBodyLength+1)))
}

func TestLoginRequest_Validate(t *testing.T) {
	t.Run("Valid request", func(t *testing.T) {
		req := &LoginRequest{Email: " Student@Uni.example.edu ", Password: "secret"}
		require.NoError(t, req.Validate())
		assert.Equal(t, "Student@Uni.example.edu", req.Email)
	})

	t.Run("Invalid - missing password", func(t *testing.T) {
		req := &LoginRequest{Email: "student@uni.example.edu"}
		assert.ErrorIs(t, req.Validate(), ErrPasswordMissing)
	})

	t.Run("Invalid - bad email", func(t *testing.T) {
		req := &LoginRequest{Email: "student", Password: "secret"}
		assert.ErrorIs(t, req.Validate(), ErrInvalidEmail)
	})
}

func TestRefreshRequest_Validate(t *testing.T) {
	since := time.Now()
	assert.NoError(t, (&RefreshRequest{}).Validate())
	assert.NoError(t, (&RefreshRequest{SinceDate: &since, KnownIDs: []string{"a"}}).Validate())

	tooMany := make([]string, MaxKnownIDs+1)
	assert.ErrorIs(t, (&RefreshRequest{KnownIDs: tooMany}).Validate(), ErrTooManyKnownIDs)
}

func TestDraftReplyRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		req     *DraftReplyRequest
		wantErr error
	}{
		{"Valid initial draft", &DraftReplyRequest{Subject: "Hi", Body: "b", Intent: "accept"}, nil},
		{"Valid refinement", &DraftReplyRequest{Subject: "Hi", RefinementIntent: "shorter", CurrentDraft: "draft"}, nil},
		{"Invalid - no intent", &DraftReplyRequest{Subject: "Hi", Body: "b"}, ErrIntentMissing},
		{"Invalid - refinement without draft", &DraftReplyRequest{Intent: "accept", RefinementIntent: "shorter"}, ErrDraftMissing},
		{"Invalid - body too long", &DraftReplyRequest{Intent: "accept", Body: strings.Repeat("x", MaxBodyLength+1)}, ErrBodyTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestSendReplyRequest_Validate(t *testing.T) {
	t.Run("Valid request", func(t *testing.T) {
		req := &SendReplyRequest{To: "Prof <prof@uni.example.edu>", Subject: "Re: Exam", HTMLBody: "<p>Thanks</p>", ReplyTo: "me@uni.example.edu"}
		mail, err := req.Validate()
		require.NoError(t, err)
		assert.Equal(t, &OutgoingMail{To: "prof@uni.example.edu", Subject: "Re: Exam", HTMLBody: "<p>Thanks</p>", ReplyTo: "me@uni.example.edu"}, mail)
	})

	t.Run("Invalid - recipient", func(t *testing.T) {
		_, err := (&SendReplyRequest{To: "nobody", Subject: "s"}).Validate()
		assert.ErrorIs(t, err, ErrInvalidEmail)
	})

	t.Run("Invalid - reply-to", func(t *testing.T) {
		_, err := (&SendReplyRequest{To: "a@example.com", Subject: "s", ReplyTo: "broken"}).Validate()
		assert.ErrorIs(t, err, ErrInvalidEmail)
	})

	t.Run("Invalid - empty subject", func(t *testing.T) {
		_, err := (&SendReplyRequest{To: "a@example.com", Subject: "  "}).Validate()
		assert.ErrorIs(t, err, ErrSubjectInvalid)
	})
}
