package metrics

import (
	"math/big"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type StakingMetrics struct {
	opsTotal       *prometheus.CounterVec
	rewardsPaid    prometheus.Counter
	totalStaked    prometheus.Gauge
	rewardRate     prometheus.Gauge
	custodianFails *prometheus.CounterVec
}

var (
	stakingOnce     sync.Once
	stakingRegistry *StakingMetrics
)

func Staking() *StakingMetrics {
	stakingOnce.Do(func() {
		stakingRegistry = &StakingMetrics{
			opsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "staking_operations_total",
				Help: "Count of staking operations by type and outcome.",
			}, []string{"op", "outcome"}),
			rewardsPaid: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "staking_rewards_paid_wei_total",
				Help: "Cumulative reward paid out by claims, in wei.",
			}),
			totalStaked: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "staking_total_staked_wei",
				Help: "Current total staked amount across all positions, in wei.",
			}),
			rewardRate: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "staking_reward_rate_wei_per_second",
				Help: "Configured pool emission rate, in wei per second.",
			}),
			custodianFails: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "staking_custodian_failures_total",
				Help: "Count of custodian transfer rejections by operation.",
			}, []string{"op"}),
		}
		prometheus.MustRegister(
			stakingRegistry.opsTotal,
			stakingRegistry.rewardsPaid,
			stakingRegistry.totalStaked,
			stakingRegistry.rewardRate,
			stakingRegistry.custodianFails,
		)
	})
	return stakingRegistry
}

// RecordOp counts one staking operation with the given outcome label.
func (m *StakingMetrics) RecordOp(op, outcome string) {
	if m == nil {
		return
	}
	m.opsTotal.WithLabelValues(op, outcome).Inc()
}

// RecordCustodianFailure counts a custodian rejection for the operation.
func (m *StakingMetrics) RecordCustodianFailure(op string) {
	if m == nil {
		return
	}
	m.custodianFails.WithLabelValues(op).Inc()
}

// AddRewardsPaid accumulates a claim payout. Values beyond float precision
// degrade gracefully; the counter is operational telemetry, not accounting.
func (m *StakingMetrics) AddRewardsPaid(amount *big.Int) {
	if m == nil || amount == nil || amount.Sign() <= 0 {
		return
	}
	paid, _ := new(big.Float).SetInt(amount).Float64()
	m.rewardsPaid.Add(paid)
}

// SetTotalStaked records the pool-wide staked amount.
func (m *StakingMetrics) SetTotalStaked(total *big.Int) {
	if m == nil || total == nil {
		return
	}
	v, _ := new(big.Float).SetInt(total).Float64()
	m.totalStaked.Set(v)
}

// SetRewardRate records the configured emission rate.
func (m *StakingMetrics) SetRewardRate(rate *big.Int) {
	if m == nil || rate == nil {
		return
	}
	v, _ := new(big.Float).SetInt(rate).Float64()
	m.rewardRate.Set(v)
}
