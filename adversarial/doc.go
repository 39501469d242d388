// Package adversarial generates adversarial perturbations for image
// classifiers and trains classifiers to withstand them.
//
// Projector keeps perturbations inside an epsilon-ball under the L1, L2 or
// L-infinity norm. PGDAttacker runs projected sign-gradient ascent on the
// full network. YOPOTrainer approximates PGD adversarial training with one
// full backward pass per outer iteration: the loss gradient at the first
// layer's output (the adjoint p) drives N2 cheap inner refinements of the
// perturbation through the Hamiltonian H(x, p) = sum(layer1(x) * p).
//
// Every iteration builds a fresh tape from plain slices, so no gradient graph
// outlives the iteration that recorded it.
package adversarial
