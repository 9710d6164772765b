package qpu

import "testing"

func TestPQRegistry(t *testing.T) {
	if PQAvailable("pq-test-alg") {
		t.Fatal("alg registered before test")
	}
	if _, err := PQVerify("pq-test-alg", nil, nil, nil); err != ErrPQAlgUnknown {
		t.Errorf("err = %v, want ErrPQAlgUnknown", err)
	}
	if err := RegisterPQAlgorithm("pq-test-alg", nil); err != ErrPQNilVerify {
		t.Errorf("nil verify fn: err = %v", err)
	}

	err := RegisterPQAlgorithm("pq-test-alg", func(pub, msg, sig []byte) bool {
		return len(sig) == 3
	})
	if err != nil {
		t.Fatal(err)
	}
	if !PQAvailable("pq-test-alg") {
		t.Error("alg not available after registration")
	}
	ok, err := PQVerify("pq-test-alg", nil, nil, []byte{1, 2, 3})
	if err != nil || !ok {
		t.Errorf("verify = %v, %v", ok, err)
	}
	ok, err = PQVerify("pq-test-alg", nil, nil, []byte{1})
	if err != nil || ok {
		t.Errorf("verify of bad sig = %v, %v", ok, err)
	}
}
