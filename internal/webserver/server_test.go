package webserver_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/nabbar/webserv/internal/webserver"
)

func TestWebserver(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "webserver Suite")
}

// writeMinimalConfig renders a config that listens on a fixed test port
// and serves root as its document root, with every path (logs, tmp)
// absolute under dir so Bootstrap never writes outside the test's own
// temp directory.
func writeMinimalConfig(dir, root string, port int) string {
	content := fmt.Sprintf(`
error_log %s verbose;

events {
	worker_connections 64;
}

http {
	server {
		listen 127.0.0.1:%d;
		access_log %s;

		location / {
			root %s;
			index index.html;
		}
	}
}
`, filepath.Join(dir, "error.log"), port, filepath.Join(dir, "access.log"), root)

	path := filepath.Join(dir, "webserv.conf")
	Expect(os.WriteFile(path, []byte(content), 0644)).To(Succeed())
	return path
}

var _ = Describe("ParseAndResolve", func() {
	It("validates a well-formed configuration without binding a socket", func() {
		dir := GinkgoT().TempDir()
		root := GinkgoT().TempDir()
		path := writeMinimalConfig(dir, root, 18540)

		cfg, err := webserver.ParseAndResolve(path)
		Expect(err).To(BeNil())
		Expect(cfg.Table.Servers).To(HaveLen(1))
	})

	It("fails on a missing file", func() {
		_, err := webserver.ParseAndResolve(filepath.Join(GinkgoT().TempDir(), "missing.conf"))
		Expect(err).ToNot(BeNil())
	})
})

var _ = Describe("Bootstrap and Run", func() {
	It("binds its listener and shuts down cleanly on context cancellation", func() {
		wd, _ := os.Getwd()
		dir := GinkgoT().TempDir()
		Expect(os.Chdir(dir)).To(Succeed())
		defer os.Chdir(wd)

		root := filepath.Join(dir, "site")
		Expect(os.MkdirAll(root, 0755)).To(Succeed())
		Expect(os.WriteFile(filepath.Join(root, "index.html"), []byte("ok"), 0644)).To(Succeed())

		path := writeMinimalConfig(dir, root, 18541)

		srv, err := webserver.Bootstrap(path)
		Expect(err).To(BeNil())

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			_ = srv.Run(ctx)
			close(done)
		}()

		time.Sleep(50 * time.Millisecond)
		cancel()

		select {
		case <-done:
		case <-time.After(2 * time.Second):
			Fail("server did not shut down within 2s of context cancellation")
		}
	})
})
