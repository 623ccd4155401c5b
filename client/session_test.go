package client

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/grantdesk/grantdesk/auth"
	"github.com/grantdesk/grantdesk/entity"
	"github.com/stretchr/testify/assert"
)

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func Test_StoredSession_Expired(t *testing.T) {
	testCases := []struct {
		name    string
		expires time.Time
		expect  bool
	}{
		{name: "no expiry", expect: false},
		{name: "in the future", expires: testNow.Add(time.Minute), expect: false},
		{name: "exactly now", expires: testNow, expect: true},
		{name: "in the past", expires: testNow.Add(-time.Minute), expect: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert := assert.New(t)
			sess := StoredSession{Token: "t", ExpiresAt: tc.expires}
			assert.Equal(tc.expect, sess.Expired(testNow))
		})
	}
}

func Test_MemorySessionStore(t *testing.T) {
	assert := assert.New(t)
	clock := testNow
	store := &MemorySessionStore{Now: func() time.Time { return clock }}

	_, ok, err := store.Load()
	assert.NoError(err)
	assert.False(ok)

	assert.NoError(store.Save(StoredSession{Token: "abc", ExpiresAt: testNow.Add(time.Hour)}))
	sess, ok, err := store.Load()
	assert.NoError(err)
	assert.True(ok)
	assert.Equal("abc", sess.Token)

	clock = testNow.Add(2 * time.Hour)
	_, ok, err = store.Load()
	assert.NoError(err)
	assert.False(ok, "expired session is absent")

	clock = testNow
	_, ok, _ = store.Load()
	assert.False(ok, "expired session was dropped")

	assert.NoError(store.Save(StoredSession{Token: "def"}))
	assert.NoError(store.Clear())
	_, ok, _ = store.Load()
	assert.False(ok)
}

func Test_FileSessionStore(t *testing.T) {
	clientSession := StoredSession{
		Token:     "client-token",
		ExpiresAt: testNow.Add(time.Hour),
		Client:    entity.Record{"id": "c1", "name": "Riverside Arts", "seats": 3},
	}
	staffSession := StoredSession{
		Token:     "staff-token",
		ExpiresAt: testNow.Add(time.Hour),
		User:      &auth.UserModel{ID: "u1", Email: "writer@example.com", Role: "normal"},
	}

	t.Run("missing file is no session", func(t *testing.T) {
		assert := assert.New(t)
		store := NewFileSessionStore(filepath.Join(t.TempDir(), "session.json"))

		_, ok, err := store.Load()

		assert.NoError(err)
		assert.False(ok)
	})

	t.Run("round trip of a client session", func(t *testing.T) {
		assert := assert.New(t)
		path := filepath.Join(t.TempDir(), "nested", "session.json")
		store := NewFileSessionStore(path)
		store.Now = func() time.Time { return testNow }

		if !assert.NoError(store.Save(clientSession)) {
			return
		}
		actual, ok, err := store.Load()

		assert.NoError(err)
		assert.True(ok)
		assert.Equal(clientSession.Token, actual.Token)
		assert.True(clientSession.ExpiresAt.Equal(actual.ExpiresAt))
		assert.Equal(entity.Record{"id": "c1", "name": "Riverside Arts", "seats": int64(3)}, actual.Client)
		assert.Nil(actual.User)

		info, err := os.Stat(path)
		if assert.NoError(err) {
			assert.Equal(os.FileMode(0600), info.Mode().Perm())
		}
	})

	t.Run("second store sees the saved session", func(t *testing.T) {
		assert := assert.New(t)
		path := filepath.Join(t.TempDir(), "session.json")
		first := NewFileSessionStore(path)
		first.Now = func() time.Time { return testNow }
		second := NewFileSessionStore(path)
		second.Now = func() time.Time { return testNow }

		assert.NoError(first.Save(staffSession))
		actual, ok, err := second.Load()

		assert.NoError(err)
		assert.True(ok)
		if assert.NotNil(actual.User) {
			assert.Equal("u1", actual.User.ID)
		}
	})

	t.Run("expired session is absent and removed", func(t *testing.T) {
		assert := assert.New(t)
		path := filepath.Join(t.TempDir(), "session.json")
		store := NewFileSessionStore(path)
		store.Now = func() time.Time { return testNow.Add(2 * time.Hour) }

		assert.NoError(store.Save(clientSession))
		_, ok, err := store.Load()

		assert.NoError(err)
		assert.False(ok)
		_, err = os.Stat(path)
		assert.ErrorIs(err, os.ErrNotExist)
	})

	t.Run("clear", func(t *testing.T) {
		assert := assert.New(t)
		path := filepath.Join(t.TempDir(), "session.json")
		store := NewFileSessionStore(path)

		assert.NoError(store.Save(staffSession))
		assert.NoError(store.Clear())
		assert.NoError(store.Clear(), "clearing twice is fine")
		_, err := os.Stat(path)
		assert.ErrorIs(err, os.ErrNotExist)
	})

	t.Run("corrupt file", func(t *testing.T) {
		assert := assert.New(t)
		path := filepath.Join(t.TempDir(), "session.json")
		assert.NoError(os.WriteFile(path, []byte("{not json"), 0600))
		store := NewFileSessionStore(path)

		_, ok, err := store.Load()

		assert.Error(err)
		assert.False(ok)
	})
}
