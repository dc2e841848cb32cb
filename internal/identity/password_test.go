package identity

import "testing"

func TestHashAndVerifyPasswordRoundTrip(t *testing.T) {
	params := Argon2Params{MemoryKiB: 8 * 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}

	hash, err := hashPassword(params, "correct horse battery staple")
	if err != nil {
		t.Fatalf("hashPassword: %v", err)
	}

	ok, err := verifyPassword(hash, "correct horse battery staple")
	if err != nil {
		t.Fatalf("verifyPassword: %v", err)
	}
	if !ok {
		t.Fatalf("expected the correct password to verify")
	}

	ok, err = verifyPassword(hash, "wrong password")
	if err != nil {
		t.Fatalf("verifyPassword: %v", err)
	}
	if ok {
		t.Fatalf("expected the wrong password to fail verification")
	}
}

func TestHashPasswordProducesDistinctSalts(t *testing.T) {
	params := Argon2Params{MemoryKiB: 8 * 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}

	h1, err := hashPassword(params, "same-password")
	if err != nil {
		t.Fatalf("hashPassword: %v", err)
	}
	h2, err := hashPassword(params, "same-password")
	if err != nil {
		t.Fatalf("hashPassword: %v", err)
	}
	if h1 == h2 {
		t.Fatalf("expected distinct encoded hashes for independently salted calls")
	}
}

func TestVerifyPasswordRejectsMalformedHash(t *testing.T) {
	_, err := verifyPassword("not-a-valid-hash", "anything")
	if err != ErrInvalidHash {
		t.Fatalf("err = %v, want ErrInvalidHash", err)
	}
}

func TestDefaultArgon2ParamsAreSane(t *testing.T) {
	p := DefaultArgon2Params()
	if p.MemoryKiB == 0 || p.Iterations == 0 || p.Parallelism == 0 || p.SaltLength == 0 || p.KeyLength == 0 {
		t.Fatalf("DefaultArgon2Params returned a zero field: %+v", p)
	}
}
