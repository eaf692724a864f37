// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package integration_test

import (
	"os"
	"testing"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/vanaheim-cache/vsl/internal/vsm"
)

func TestRingIntegration(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "VSL Ring Integration Suite")
}

var dataDir string
var arena *vsm.Arena

var _ = BeforeSuite(func(done Done) {
	defer close(done)

	var err error
	dataDir, err = os.MkdirTemp("", "vsl-ring")
	Expect(err).ToNot(HaveOccurred())

	arena, err = vsm.Open(dataDir+"/arena", 1<<22, vsm.GraceInterval(0))
	Expect(err).ToNot(HaveOccurred())
})

var _ = AfterSuite(func(done Done) {
	defer close(done)
	Expect(arena.Close()).To(Succeed())
	Expect(os.RemoveAll(dataDir)).To(Succeed())
})
