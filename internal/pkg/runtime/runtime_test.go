package runtime

import "testing"

func TestParseRuntime(t *testing.T) {
	tests := []struct {
		in      string
		want    ContainerRuntime
		wantErr bool
	}{
		{"", RuntimeAuto, false},
		{"AUTO", RuntimeAuto, false},
		{"docker", RuntimeDocker, false},
		{"docker-cli", RuntimeDockerCLI, false},
		{"podman-cli", RuntimePodman, false},
		{"lxc", "", true},
	}
	for _, tt := range tests {
		got, err := ParseRuntime(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseRuntime(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseRuntime(%q) = %s, want %s", tt.in, got, tt.want)
		}
		if !tt.wantErr && !got.IsValid() {
			t.Errorf("expected %s to be valid", got)
		}
	}
}

func TestContainerRuntime_Binary(t *testing.T) {
	if RuntimePodman.Binary() != "podman" {
		t.Errorf("expected podman binary, got %s", RuntimePodman.Binary())
	}
	for _, rt := range []ContainerRuntime{RuntimeAuto, RuntimeDocker, RuntimeDockerCLI} {
		if rt.Binary() != "docker" {
			t.Errorf("expected docker binary for %s, got %s", rt, rt.Binary())
		}
	}
	if ContainerRuntime("lxc").IsValid() {
		t.Error("expected unknown runtime to be invalid")
	}
}
