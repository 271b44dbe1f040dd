package main

import (
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/dbroker/dbr/pkg/tuplestore"
)

// workload is one worker's share of the run: it repeats a PUT/GET pair
// against distinct keys, recording each op's latency.
type workload struct {
	ns        tuplestore.NamespaceHandle
	valueSize int
	ops       int
	worker    int
}

// result is one workload's measurements, folded into the run-wide summary.
type result struct {
	putLatencies []time.Duration
	getLatencies []time.Duration
	errors       int
}

func runWorkload(c *client, w workload) result {
	var res result
	payload := make([]byte, w.valueSize)
	rand.New(rand.NewSource(int64(w.worker) + 1)).Read(payload)

	for i := 0; i < w.ops; i++ {
		key := []byte(fmt.Sprintf("bench-%d-%d", w.worker, i))

		start := time.Now()
		putComp, err := c.Do(&tuplestore.Request{
			Opcode:    tuplestore.OpPut,
			Namespace: w.ns,
			Key:       key,
			Segments:  []tuplestore.Segment{{Base: payload, Len: len(payload)}},
		})
		if err != nil || putComp.Comp.Status != tuplestore.StatusSuccess {
			res.errors++
			continue
		}
		res.putLatencies = append(res.putLatencies, time.Since(start))

		start = time.Now()
		getComp, err := c.Do(&tuplestore.Request{
			Opcode:    tuplestore.OpGet,
			Namespace: w.ns,
			Key:       key,
			Segments:  []tuplestore.Segment{{Base: make([]byte, w.valueSize), Len: w.valueSize}},
		})
		if err != nil || getComp.Comp.Status != tuplestore.StatusSuccess {
			res.errors++
			continue
		}
		res.getLatencies = append(res.getLatencies, time.Since(start))
	}

	return res
}

// runBench attaches to namespace, fans out concurrency workers each
// running ops PUT/GET pairs, and prints a latency/throughput summary.
func runBench(c *client, namespace string, concurrency, opsPerWorker, valueSize int) error {
	attachComp, err := c.Do(&tuplestore.Request{
		Opcode: tuplestore.OpNSAttach,
		Key:    []byte(namespace),
	})
	if err != nil {
		return fmt.Errorf("attaching namespace: %w", err)
	}
	if attachComp.Comp.Status != tuplestore.StatusSuccess {
		return fmt.Errorf("attaching namespace: %s", attachComp.Comp.Status)
	}
	ns := tuplestore.NamespaceHandle(attachComp.Comp.RC)

	var wg sync.WaitGroup
	results := make([]result, concurrency)
	start := time.Now()

	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			results[idx] = runWorkload(c, workload{
				ns:        ns,
				valueSize: valueSize,
				ops:       opsPerWorker,
				worker:    idx,
			})
		}(i)
	}
	wg.Wait()
	elapsed := time.Since(start)

	printSummary(results, elapsed)
	return nil
}

func printSummary(results []result, elapsed time.Duration) {
	var puts, gets, errs int
	var allPut, allGet []time.Duration
	for _, r := range results {
		allPut = append(allPut, r.putLatencies...)
		allGet = append(allGet, r.getLatencies...)
		puts += len(r.putLatencies)
		gets += len(r.getLatencies)
		errs += r.errors
	}

	total := puts + gets
	fmt.Printf("ops: %d put, %d get, %d errors, %d total in %s (%.0f ops/sec)\n",
		puts, gets, errs, total, elapsed, float64(total)/elapsed.Seconds())
	fmt.Printf("PUT latency: %s\n", percentileReport(allPut))
	fmt.Printf("GET latency: %s\n", percentileReport(allGet))
}

func percentileReport(latencies []time.Duration) string {
	if len(latencies) == 0 {
		return "n/a"
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	p50 := latencies[len(latencies)*50/100]
	p99 := latencies[min(len(latencies)*99/100, len(latencies)-1)]
	return fmt.Sprintf("p50=%s p99=%s max=%s", p50, p99, latencies[len(latencies)-1])
}
