package aircon

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
)

func TestOperationMode_String(t *testing.T) {
	tests := []struct {
		mode OperationMode
		want string
	}{
		{ModeHeat, "heat"},
		{ModeDry, "dry"},
		{ModeCool, "cool"},
		{ModeFan, "fan"},
		{ModeAuto, "auto"},
		{ModeISeeHeat, "heat-isee"},
		{OperationMode(42), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.mode.String(); got != tt.want {
			t.Errorf("OperationMode(%d).String() = %q, want %q", int(tt.mode), got, tt.want)
		}
	}
}

func TestOperationMode_Families(t *testing.T) {
	if !ModeHeat.IsHeating() || !ModeISeeHeat.IsHeating() {
		t.Error("heat modes should report IsHeating")
	}
	if !ModeCool.IsCooling() || !ModeISeeCool.IsCooling() {
		t.Error("cool modes should report IsCooling")
	}
	if ModeAuto.IsHeating() || ModeAuto.IsCooling() || ModeFan.IsHeating() {
		t.Error("auto and fan should belong to neither family")
	}
}

func TestCloudClient_StateLogsInAndMapsFields(t *testing.T) {
	var loginCalls, stateCalls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/login":
			loginCalls++
			var req loginRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Errorf("decoding login request: %v", err)
			}
			if req.Email != "home@example.com" || req.Password != "hunter2" {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			json.NewEncoder(w).Encode(loginResponse{Token: "tok-1"})
		case "/api/v1/devices/dev-42":
			stateCalls++
			if got := r.Header.Get("Authorization"); got != "Bearer tok-1" {
				t.Errorf("Authorization = %q, want bearer tok-1", got)
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			fmt.Fprint(w, `{"power":true,"operationMode":1,"roomTemperature":21.5,"setTemperature":23,"prohibit":null}`)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := NewCloudClient(srv.URL, "home@example.com", "hunter2", "dev-42", zap.NewNop())
	snap, err := c.State(context.Background())
	if err != nil {
		t.Fatalf("State() error = %v", err)
	}

	if snap.Power == nil || !*snap.Power {
		t.Errorf("Power = %v, want true", snap.Power)
	}
	if snap.OperationMode == nil || *snap.OperationMode != ModeHeat {
		t.Errorf("OperationMode = %v, want heat", snap.OperationMode)
	}
	if snap.SensorTemp == nil || *snap.SensorTemp != 21.5 {
		t.Errorf("SensorTemp = %v, want 21.5", snap.SensorTemp)
	}
	if snap.SetTemperature == nil || *snap.SetTemperature != 23 {
		t.Errorf("SetTemperature = %v, want 23", snap.SetTemperature)
	}
	if snap.Prohibit != nil {
		t.Errorf("Prohibit = %v, want nil", snap.Prohibit)
	}
	if snap.FetchedAt.IsZero() {
		t.Error("FetchedAt should be stamped")
	}
	if loginCalls != 1 || stateCalls != 1 {
		t.Errorf("loginCalls = %d, stateCalls = %d, want 1 each", loginCalls, stateCalls)
	}
}

func TestCloudClient_SendEncodesFlags(t *testing.T) {
	var got commandRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/login":
			json.NewEncoder(w).Encode(loginResponse{Token: "tok-1"})
		case "/api/v1/devices/dev-42/set":
			if r.Method != http.MethodPost {
				t.Errorf("method = %s, want POST", r.Method)
			}
			if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
				t.Errorf("decoding command: %v", err)
			}
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	c := NewCloudClient(srv.URL, "home@example.com", "hunter2", "dev-42", zap.NewNop())
	update := DeviceUpdate{Power: true, OperationMode: ModeCool, SetTemperature: 24.5}
	if err := c.Send(context.Background(), update, FlagPowerModeTemp); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	if !got.Power {
		t.Error("command power = false, want true")
	}
	if got.OperationMode != int(ModeCool) {
		t.Errorf("command mode = %d, want %d", got.OperationMode, int(ModeCool))
	}
	if got.SetTemperature != 24.5 {
		t.Errorf("command setpoint = %v, want 24.5", got.SetTemperature)
	}
	if got.EffectiveFlags != 0x07 {
		t.Errorf("command flags = %#x, want 0x07", got.EffectiveFlags)
	}
}

func TestCloudClient_ReloginOnExpiredSession(t *testing.T) {
	var loginCalls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/login":
			loginCalls++
			json.NewEncoder(w).Encode(loginResponse{Token: fmt.Sprintf("tok-%d", loginCalls)})
		case "/api/v1/devices/dev-42":
			if r.Header.Get("Authorization") == "Bearer tok-1" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			fmt.Fprint(w, `{"power":false}`)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	c := NewCloudClient(srv.URL, "home@example.com", "hunter2", "dev-42", zap.NewNop())
	snap, err := c.State(context.Background())
	if err != nil {
		t.Fatalf("State() error = %v", err)
	}
	if loginCalls != 2 {
		t.Errorf("loginCalls = %d, want 2 (initial login plus refresh)", loginCalls)
	}
	if snap.Power == nil || *snap.Power {
		t.Errorf("Power = %v, want false", snap.Power)
	}
}

func TestCloudClient_ClientErrorIsTerminal(t *testing.T) {
	var stateCalls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/login":
			json.NewEncoder(w).Encode(loginResponse{Token: "tok-1"})
		case "/api/v1/devices/dev-42":
			stateCalls++
			w.WriteHeader(http.StatusNotFound)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	c := NewCloudClient(srv.URL, "home@example.com", "hunter2", "dev-42", zap.NewNop())
	if _, err := c.State(context.Background()); err == nil {
		t.Fatal("State() should fail on 404")
	}
	if stateCalls != 1 {
		t.Errorf("stateCalls = %d, want 1 (no retries on client errors)", stateCalls)
	}
}
