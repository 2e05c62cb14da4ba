/*
Package bisect locates the commit at which the observable behavior of a fuzz
target changed, by binary search over a revision range.

A bisection is described by a [Job]: the revision bounds, the fuzz target and
the fixed crashing testcase, plus the collaborating oracles which build a
revision and reproduce the testcase against the built target. Jobs can most
easily be created by passing a yaml config to [GetJobFromConfig], or manually
by populating the struct.

[Job.Run] executes the search synchronously, one build-and-reproduce step at
a time, and returns a [Result]. The result is tagged with an [Outcome]: a
genuine [Boundary], the degenerate [IdenticalBehavior] case in which the
whole range classifies the same, or [SingleRevision] when there was nothing
to search. Build and reproduction failures abort the run with an error naming
the failing revision; they are never treated as a classification.
*/
package bisect
