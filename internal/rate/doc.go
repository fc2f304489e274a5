// Package rate contains login failure limiters. Window is the in-process
// default; Redis backs the same contract with a shared store for
// multi-instance deployments.
package rate
