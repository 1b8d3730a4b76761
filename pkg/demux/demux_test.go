// SPDX-FileCopyrightText: 2024 The ospcast Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package demux

import (
	"errors"
	"testing"
	"time"
)

func TestFeedDeliversCompleteFrameToRegisteredWatcher(t *testing.T) {
	d := New()

	var gotInstance, gotStream uint64
	var gotTag byte
	var gotBody []byte
	d.SetDefaultMessageTypeWatch(0x01, func(instanceID, streamID uint64, tag byte, body []byte, now time.Time) (int, error) {
		gotInstance, gotStream, gotTag, gotBody = instanceID, streamID, tag, append([]byte(nil), body...)
		return len(body), nil
	})

	if err := d.Feed(7, 3, []byte{0x01, 'h', 'i'}, time.Unix(0, 0)); err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if gotInstance != 7 || gotStream != 3 || gotTag != 0x01 || string(gotBody) != "hi" {
		t.Fatalf("watcher saw (%d, %d, %#x, %q)", gotInstance, gotStream, gotTag, gotBody)
	}
}

func TestFeedLeavesIncompleteFrameForNextCall(t *testing.T) {
	d := New()

	var calls int
	d.SetDefaultMessageTypeWatch(0x02, func(instanceID, streamID uint64, tag byte, body []byte, now time.Time) (int, error) {
		calls++
		if len(body) < 4 {
			return 0, nil
		}
		return 4, nil
	})

	if err := d.Feed(1, 1, []byte{0x02, 'a', 'b'}, time.Unix(0, 0)); err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}

	if err := d.Feed(1, 1, []byte{'c', 'd'}, time.Unix(0, 0)); err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if calls != 2 {
		t.Fatalf("calls = %d, want 2 once the frame completed", calls)
	}
}

func TestFeedDropsOneByteForUnrecognizedTagAndResumes(t *testing.T) {
	d := New()

	var delivered byte
	d.SetDefaultMessageTypeWatch(0x05, func(instanceID, streamID uint64, tag byte, body []byte, now time.Time) (int, error) {
		delivered = tag
		return len(body), nil
	})

	if err := d.Feed(1, 1, []byte{0xff, 0x05, 'z'}, time.Unix(0, 0)); err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if delivered != 0x05 {
		t.Fatalf("expected the recognized tag after the unknown byte to still be delivered, got %#x", delivered)
	}
}

func TestFeedPropagatesWatcherError(t *testing.T) {
	d := New()
	boom := errors.New("boom")
	d.SetDefaultMessageTypeWatch(0x09, func(instanceID, streamID uint64, tag byte, body []byte, now time.Time) (int, error) {
		return 0, boom
	})

	err := d.Feed(1, 1, []byte{0x09, 'x'}, time.Unix(0, 0))
	if !errors.Is(err, boom) {
		t.Fatalf("Feed error = %v, want %v", err, boom)
	}
}

func TestCancelFuncOnlyRemovesItsOwnRegistration(t *testing.T) {
	d := New()

	var first, second int
	cancelFirst := d.SetDefaultMessageTypeWatch(0x01, func(instanceID, streamID uint64, tag byte, body []byte, now time.Time) (int, error) {
		first++
		return len(body), nil
	})
	cancelFirst()
	d.SetDefaultMessageTypeWatch(0x01, func(instanceID, streamID uint64, tag byte, body []byte, now time.Time) (int, error) {
		second++
		return len(body), nil
	})

	// cancelFirst is stale now; calling it again must not disturb the second
	// registration.
	cancelFirst()

	if err := d.Feed(1, 1, []byte{0x01, 'x'}, time.Unix(0, 0)); err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if first != 0 || second != 1 {
		t.Fatalf("first=%d second=%d, want 0 and 1", first, second)
	}
}

func TestDropStreamDiscardsBufferedPartialFrame(t *testing.T) {
	d := New()
	d.SetDefaultMessageTypeWatch(0x01, func(instanceID, streamID uint64, tag byte, body []byte, now time.Time) (int, error) {
		return 0, nil
	})

	if err := d.Feed(1, 1, []byte{0x01, 'a'}, time.Unix(0, 0)); err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if len(d.buffers[streamKey{1, 1}]) == 0 {
		t.Fatal("expected the incomplete frame to remain buffered")
	}

	d.DropStream(1, 1)
	if _, ok := d.buffers[streamKey{1, 1}]; ok {
		t.Fatal("expected DropStream to remove the buffer entirely")
	}
}
