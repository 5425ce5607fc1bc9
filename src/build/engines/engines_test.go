package engines

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/sofmeright/treebuild/src/build"
)

func testStep() build.Step {
	return build.Step{
		Node:       "org/app:1.0",
		Dockerfile: "/src/app/Dockerfile",
		Context:    "/src/app",
		Target:     "runtime",
		Platforms:  []string{"linux/amd64", "linux/arm64"},
		BuildArgs:  map[string]string{"BASE_IMAGE": "org/base:latest", "A": "1"},
		Refs:       []string{"org/app:1.0", "org/app:main"},
		Push:       true,
	}
}

func TestRegistered(t *testing.T) {
	if diff := cmp.Diff([]string{"docker", "kaniko"}, build.All()); diff != "" {
		t.Errorf("engines (-want +got):\n%s", diff)
	}
	if _, err := build.Get("podman"); err == nil {
		t.Error("unknown engine accepted")
	}
}

func TestDockerCommands(t *testing.T) {
	e, err := build.Get("docker")
	if err != nil {
		t.Fatal(err)
	}

	got := e.BuildCommand(testStep())
	want := build.Command{
		Name: "docker",
		Args: []string{
			"buildx", "build", "--progress=plain", "--load", "--tag", "org/app:1.0",
			"--file", "/src/app/Dockerfile",
			"--target", "runtime",
			"--platform", "linux/amd64,linux/arm64",
			"--build-arg", "A=1",
			"--build-arg", "BASE_IMAGE=org/base:latest",
			"/src/app",
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("BuildCommand (-want +got):\n%s", diff)
	}

	tag, ok := e.TagCommand("org/app:1.0", "org/app:main")
	if !ok || tag.String() != "docker tag org/app:1.0 org/app:main" {
		t.Errorf("TagCommand = %q, %v", tag.String(), ok)
	}
	push, ok := e.PushCommand("org/app:main")
	if !ok || push.String() != "docker push org/app:main" {
		t.Errorf("PushCommand = %q, %v", push.String(), ok)
	}
	rm, ok := e.RemoveCommand([]string{"org/app:1.0", "org/app:main"})
	if !ok || rm.String() != "docker image rm --force org/app:1.0 org/app:main" {
		t.Errorf("RemoveCommand = %q, %v", rm.String(), ok)
	}
}

func TestKanikoCommands(t *testing.T) {
	e, err := build.Get("kaniko")
	if err != nil {
		t.Fatal(err)
	}

	step := testStep()
	step.Push = false
	step.Platforms = nil
	got := e.BuildCommand(step)
	want := []string{
		"--context", "dir:///src/app",
		"--dockerfile", "/src/app/Dockerfile",
		"--target", "runtime",
		"--build-arg", "A=1",
		"--build-arg", "BASE_IMAGE=org/base:latest",
		"--destination", "org/app:1.0",
		"--destination", "org/app:main",
		"--no-push",
	}
	if diff := cmp.Diff(want, got.Args); diff != "" {
		t.Errorf("BuildCommand args (-want +got):\n%s", diff)
	}

	if _, ok := e.TagCommand("a", "b"); ok {
		t.Error("kaniko should not tag separately")
	}
	if _, ok := e.PushCommand("a"); ok {
		t.Error("kaniko should not push separately")
	}
	if _, ok := e.RemoveCommand([]string{"a"}); ok {
		t.Error("kaniko has no local images")
	}
}
