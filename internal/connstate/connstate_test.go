package connstate_test

import (
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/nabbar/webserv/internal/connstate"
	"github.com/nabbar/webserv/internal/httpparse"
)

func TestConnstate(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "connstate Suite")
}

var _ = Describe("Connection", func() {
	It("reports idle once last-access exceeds its timeout", func() {
		now := time.Unix(1000, 0)
		c := connstate.New(5, "127.0.0.1", "5555", httpparse.DefaultLimits(), now)
		c.IdleTimeout = 10 * time.Second

		Expect(c.Idle(now.Add(5 * time.Second))).To(BeFalse())
		Expect(c.Idle(now.Add(11 * time.Second))).To(BeTrue())
	})

	It("reports CGI timeout only once a child is running past its deadline", func() {
		now := time.Unix(2000, 0)
		c := connstate.New(6, "127.0.0.1", "5555", httpparse.DefaultLimits(), now)
		c.CGITimeout = 30 * time.Second

		Expect(c.CGITimedOut(now)).To(BeFalse())

		c.CGI = &connstate.CGIInfo{ChildPid: 42, StartTime: now}
		Expect(c.CGITimedOut(now.Add(10 * time.Second))).To(BeFalse())
		Expect(c.CGITimedOut(now.Add(31 * time.Second))).To(BeTrue())
	})
})

var _ = Describe("Table", func() {
	It("adds, looks up and removes connections by fd", func() {
		tbl := connstate.NewTable()
		c := connstate.New(7, "10.0.0.1", "4242", httpparse.DefaultLimits(), time.Unix(0, 0))
		tbl.Add(c)

		got, ok := tbl.Get(7)
		Expect(ok).To(BeTrue())
		Expect(got).To(Equal(c))

		tbl.Remove(7)
		_, ok = tbl.Get(7)
		Expect(ok).To(BeFalse())
	})

	It("resolves a CGI pipe fd back to the owning connection", func() {
		tbl := connstate.NewTable()
		c := connstate.New(8, "10.0.0.1", "4242", httpparse.DefaultLimits(), time.Unix(0, 0))
		tbl.Add(c)
		tbl.RouteViaPipe(99, 8)

		got, ok := tbl.ClientForPipe(99)
		Expect(ok).To(BeTrue())
		Expect(got).To(Equal(c))

		tbl.UnrouteFromPipe(99)
		_, ok = tbl.ClientForPipe(99)
		Expect(ok).To(BeFalse())
	})

	It("separates idle evictions from CGI timeouts in one garbage pass", func() {
		tbl := connstate.NewTable()
		now := time.Unix(5000, 0)

		idle := connstate.New(1, "a", "1", httpparse.DefaultLimits(), now)
		idle.IdleTimeout = time.Second
		idle.LastAccess = now.Add(-10 * time.Second)
		tbl.Add(idle)

		stuckCGI := connstate.New(2, "b", "2", httpparse.DefaultLimits(), now)
		stuckCGI.CGITimeout = time.Second
		stuckCGI.CGI = &connstate.CGIInfo{ChildPid: 7, StartTime: now.Add(-10 * time.Second)}
		tbl.Add(stuckCGI)

		fresh := connstate.New(3, "c", "3", httpparse.DefaultLimits(), now)
		tbl.Add(fresh)

		idleEvictions, cgiTimeouts := tbl.GC(now)
		Expect(idleEvictions).To(ConsistOf(idle))
		Expect(cgiTimeouts).To(ConsistOf(stuckCGI))
	})
})
