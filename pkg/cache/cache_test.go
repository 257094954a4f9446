package cache

import "testing"

func TestKeyHelpersAreStable(t *testing.T) {
	if accessTokenKey("app-1") != "gitapp:token:app-1" {
		t.Errorf("accessTokenKey produced unexpected key: %s", accessTokenKey("app-1"))
	}
	if detectedPortKey("svc-1") != "service:detected_port:svc-1" {
		t.Errorf("detectedPortKey produced unexpected key: %s", detectedPortKey("svc-1"))
	}
	if updateLockKey("svc-1") != "service:update_lock:svc-1" {
		t.Errorf("updateLockKey produced unexpected key: %s", updateLockKey("svc-1"))
	}
}
