package localapi

import "testing"

func TestConfigNotifierDeliversOnlyToSubscribedWorkload(t *testing.T) {
	n := newConfigNotifier()
	ch1, cancel1 := n.subscribe("w1")
	defer cancel1()
	ch2, cancel2 := n.subscribe("w2")
	defer cancel2()

	n.publish("w1")

	select {
	case <-ch1:
	default:
		t.Error("w1's subscriber should have been notified")
	}
	select {
	case <-ch2:
		t.Error("w2's subscriber should not have been notified")
	default:
	}
}

func TestConfigNotifierCancelClosesChannel(t *testing.T) {
	n := newConfigNotifier()
	ch, cancel := n.subscribe("w1")
	cancel()

	if _, ok := <-ch; ok {
		t.Error("channel should be closed after cancel")
	}
}

func TestConfigNotifierPublishNeverBlocksOnFullSubscriber(t *testing.T) {
	n := newConfigNotifier()
	_, cancel := n.subscribe("w1")
	defer cancel()

	for i := 0; i < configNotifierBuffer+5; i++ {
		n.publish("w1")
	}
}
