// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package integration_test

import (
	"context"
	"fmt"
	"sync"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/vanaheim-cache/vsl/internal/vslring"
)

var _ = Describe("ring under concurrent load", func() {

	It("wraps under load without losing the happens-before relationship between header and payload", func() {
		ring, err := vslring.New(arena, fmt.Sprintf("wrap-%d", time.Now().UnixNano()), 1<<16, 256,
			vslring.InitialSegmentN(4294967290)) // six below uint32 overflow: the first wrap overflows segment_n
		Expect(err).ToNot(HaveOccurred())

		const writers = 8
		const perWriter = 400

		var wg sync.WaitGroup
		wg.Add(writers)
		for w := 0; w < writers; w++ {
			go func(id int) {
				defer wg.Done()
				log := vslring.NewLog(ring, nil, uint32(id+1))
				for i := 0; i < perWriter; i++ {
					_ = log.AppendFmt(vslring.TagDebug, "writer %d record %d", id, i)
					if i%7 == 0 {
						_ = log.Flush()
					}
				}
				_ = log.Flush()
			}(w)
		}

		done := make(chan struct{})
		seen := 0
		go func() {
			rd := vslring.NewReader(ring)
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			for {
				rec, err := rd.Next(ctx)
				if err != nil {
					close(done)
					return
				}
				if rec.Tag == vslring.TagBatch {
					seen += len(rec.Batch)
				} else {
					seen++
				}
			}
		}()

		wg.Wait()
		Eventually(done, 3*time.Second).Should(BeClosed())

		stats := ring.Stats()
		Expect(stats.Cycles).To(BeNumerically(">=", 1), "ring should have wrapped at least once under this load")
		Expect(stats.Writes).To(BeNumerically(">", 0))
		Expect(seen).To(Equal(writers*perWriter), "every published record must eventually be observed, even across wraps")
	})

	It("suppresses a tag the instant it is masked, mid-stream", func() {
		ring, err := vslring.New(arena, fmt.Sprintf("mask-%d", time.Now().UnixNano()), 1<<14, 256)
		Expect(err).ToNot(HaveOccurred())

		mask := vslring.NewMask()
		log := vslring.NewLog(ring, mask, 1)
		log.SetSync(true)

		Expect(log.AppendText(vslring.TagDebug, "before mask")).To(Succeed())
		before := ring.Stats().Writes

		mask.Set(vslring.TagDebug)
		Expect(log.AppendText(vslring.TagDebug, "during mask")).To(Succeed())
		Expect(ring.Stats().Writes).To(Equal(before), "masked tag must not reach the ring")

		mask.Clear(vslring.TagDebug)
		Expect(log.AppendText(vslring.TagDebug, "after mask")).To(Succeed())
		Expect(ring.Stats().Writes).To(BeNumerically(">", before))
	})
})
