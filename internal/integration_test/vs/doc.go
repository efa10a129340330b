// Package vs compares wazi with runtimes embedded via CGO. Comparisons only build on amd64 with CGO enabled.
package vs
