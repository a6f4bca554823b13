// Package billing models subscription plans and customer subscriptions.
//
// The plans table is the single source of plan pricing: recurring revenue
// is always computed from Plan.Price, never from constants.
package billing
