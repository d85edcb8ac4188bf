package queue_test

import (
	"sync"
	"time"

	"github.com/NVIDIA/shardload/queue"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Queue", func() {
	It("delivers pushed items in FIFO order", func() {
		q := queue.New[int](4)
		for i := 0; i < 4; i++ {
			Expect(q.Push(i)).To(BeTrue())
		}
		for i := 0; i < 4; i++ {
			v, ok := q.Pop()
			Expect(ok).To(BeTrue())
			Expect(v).To(Equal(i))
		}
	})

	It("blocks a producer once full and unblocks on the next pop", func() {
		q := queue.New[int](4)
		for i := 0; i < 4; i++ {
			Expect(q.Push(i)).To(BeTrue())
		}

		done := make(chan struct{})
		go func() {
			q.Push(99)
			close(done)
		}()

		Consistently(done, 100*time.Millisecond).ShouldNot(BeClosed())

		_, ok := q.Pop()
		Expect(ok).To(BeTrue())
		Eventually(done, time.Second).Should(BeClosed())
	})

	It("blocks a consumer on empty and unblocks on the next push", func() {
		q := queue.New[int](4)
		var v int
		var ok bool
		done := make(chan struct{})
		go func() {
			v, ok = q.Pop()
			close(done)
		}()

		Consistently(done, 100*time.Millisecond).ShouldNot(BeClosed())
		Expect(q.Push(7)).To(BeTrue())
		Eventually(done, time.Second).Should(BeClosed())
		Expect(ok).To(BeTrue())
		Expect(v).To(Equal(7))
	})

	It("drains buffered items and then returns ok=false after EndWait", func() {
		q := queue.New[int](4)
		Expect(q.Push(1)).To(BeTrue())
		Expect(q.Push(2)).To(BeTrue())
		q.EndWait()

		v, ok := q.Pop()
		Expect(ok).To(BeTrue())
		Expect(v).To(Equal(1))
		v, ok = q.Pop()
		Expect(ok).To(BeTrue())
		Expect(v).To(Equal(2))

		_, ok = q.Pop()
		Expect(ok).To(BeFalse())
	})

	It("rejects a push that arrives after EndWait", func() {
		q := queue.New[int](4)
		q.EndWait()
		Expect(q.Push(1)).To(BeFalse())
		Expect(q.Len()).To(Equal(0))
	})

	It("unblocks every waiting consumer on EndWait", func() {
		q := queue.New[int](1)
		var wg sync.WaitGroup
		results := make([]bool, 8)
		for i := range results {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, results[i] = q.Pop()
			}(i)
		}
		time.Sleep(50 * time.Millisecond)
		q.EndWait()

		waitDone := make(chan struct{})
		go func() { wg.Wait(); close(waitDone) }()
		Eventually(waitDone, time.Second).Should(BeClosed())
		for _, ok := range results {
			Expect(ok).To(BeFalse())
		}
	})

	It("never exceeds its configured capacity under concurrent producers", func() {
		const cap = 8
		q := queue.New[int](cap)
		var wg sync.WaitGroup
		var maxLen int
		var mu sync.Mutex
		stop := make(chan struct{})

		go func() {
			for {
				select {
				case <-stop:
					return
				default:
					mu.Lock()
					if l := q.Len(); l > maxLen {
						maxLen = l
					}
					mu.Unlock()
				}
			}
		}()

		for p := 0; p < 4; p++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < 200; i++ {
					q.Push(i)
				}
			}()
		}
		for c := 0; c < 2; c++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < 400; i++ {
					q.Pop()
				}
			}()
		}
		wg.Wait()
		close(stop)

		mu.Lock()
		defer mu.Unlock()
		Expect(maxLen).To(BeNumerically("<=", cap))
	})
})
