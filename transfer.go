/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package banklink

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/vyomnext/banklink/bank"
	"github.com/vyomnext/banklink/internal/apierror"
	redlock "github.com/vyomnext/banklink/internal/lock"
	"github.com/vyomnext/banklink/model"
)

// Saga steps, used in logs, metrics and span names.
const (
	stepValidate   = "validate"
	stepAuthorize  = "authorize"
	stepDebit      = "debit"
	stepCredit     = "credit"
	stepCompensate = "compensate"
	stepComplete   = "complete"
)

// Webhook events emitted for transfers.
const (
	EventTransferSuccess            = "transfer.success"
	EventTransferFailed             = "transfer.failed"
	EventTransferCompensationFailed = "transfer.compensation_failed"
)

// Persisted failure reasons.
const (
	ReasonInvalidPIN          = "invalid PIN"
	ReasonSourceNotFound      = "source account not found"
	ReasonPINUnavailable      = "bank unavailable during PIN verification"
	ReasonDebitUnavailable    = "bank unavailable during debit"
	ReasonDebitUnconfirmed    = "debit outcome unknown, pending reconciliation"
	ReasonStoreUnavailable    = "transfer could not be recorded"
	ReasonRefundFailedSupport = "credit failed and refund failed, contact support"
)

const (
	MessageTransferCompleted = "Transfer completed successfully"
	MessageTransferReplayed  = "Transfer already processed"
	MessageContactSupport    = "transfer failed, contact support"
)

// stepFailure describes how a saga step ended a transfer.
type stepFailure struct {
	step           string
	reason         string
	reconciliation model.Reconciliation
	err            apierror.APIError
	escalate       bool
}

type transferRun struct {
	*Banklink
	txn    *model.Transaction
	pin    string
	source bank.LedgerClient
	dest   bank.LedgerClient
	start  time.Time
}

func (b *Banklink) pinPolicy() model.PINPolicy {
	return model.PINPolicy{MinLength: b.config.Transfer.PinMinLength, MaxLength: b.config.Transfer.PinMaxLength}
}

// Transfer moves money from one of the caller's accounts to a recipient at any
// registered bank. The transaction is persisted as PENDING before any ledger is
// touched. A failed credit is compensated by refunding the source account, and
// a failed refund is escalated as COMPENSATION_FAILED.
//
// Failures after the transaction is persisted return both the outcome and the error.
func (b *Banklink) Transfer(ctx context.Context, req model.TransferRequest) (*model.TransferOutcome, error) {
	ctx, span := tracer.Start(ctx, "Transfer")
	defer span.End()
	start := time.Now()

	req.Normalize()
	if err := req.Validate(b.pinPolicy()); err != nil {
		b.metrics.ObserveTransfer("REJECTED", stepValidate, time.Since(start))
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, err.Error(), err)
	}

	if req.IdempotencyKey != "" {
		release, err := b.lockIdempotencyKey(ctx, req.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		defer release()

		existing, err := b.datasource.GetTransactionByIdempotencyKey(ctx, req.IdempotencyKey)
		if err == nil {
			return replay(existing, req.UserID)
		}
		if !apierror.IsCode(err, apierror.ErrNotFound) {
			return nil, err
		}
	}

	source, err := b.resolveSourceAccount(ctx, req)
	if err != nil {
		b.metrics.ObserveTransfer("REJECTED", stepValidate, time.Since(start))
		return nil, err
	}
	destination, err := b.registry.ResolveIFSC(req.RecipientIFSC)
	if err != nil {
		b.metrics.ObserveTransfer("REJECTED", stepValidate, time.Since(start))
		return nil, err
	}
	sourceClient, err := b.registry.Client(source.BankCode)
	if err != nil {
		return nil, err
	}
	destClient, err := b.registry.Client(destination.Code)
	if err != nil {
		return nil, err
	}

	txn, err := b.datasource.RecordTransaction(ctx, &model.Transaction{
		TransactionID:    model.NewTransactionID(),
		UserID:           req.UserID,
		SourceAccount:    source.AccountNumber,
		SourceBank:       source.BankCode,
		SourceBankName:   source.BankName,
		RecipientAccount: req.RecipientAccount,
		RecipientIFSC:    req.RecipientIFSC,
		DestinationBank:  destination.Code,
		Amount:           req.Amount,
		Description:      req.Description,
		TransactionType:  model.TransactionTypeTransfer,
		Status:           model.StatusPending,
		Stage:            model.StageCreated,
		IdempotencyKey:   req.IdempotencyKey,
		CreatedAt:        b.now().UTC(),
	})
	if err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.String("transaction.id", txn.TransactionID),
		attribute.String("transaction.source_bank", txn.SourceBank),
		attribute.String("transaction.destination_bank", txn.DestinationBank),
	)

	run := &transferRun{
		Banklink: b,
		txn:      txn,
		pin:      req.PIN,
		source:   sourceClient,
		dest:     destClient,
		start:    start,
	}

	// Once the record exists the saga runs to a terminal state even if the
	// caller goes away.
	outcome, err := run.execute(context.WithoutCancel(ctx))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return outcome, err
}

func (r *transferRun) execute(ctx context.Context) (*model.TransferOutcome, error) {
	if f := r.authorize(ctx); f != nil {
		return r.fail(ctx, *f)
	}
	if err := r.datasource.AdvanceStage(ctx, r.txn.TransactionID, model.StageCreated, model.StageAuthorized); err != nil {
		return r.fail(ctx, stepFailure{
			step:   stepAuthorize,
			reason: ReasonStoreUnavailable,
			err:    apierror.NewAPIError(apierror.ErrInternalServer, "Transfer could not be recorded, no money was moved", err),
		})
	}
	r.txn.Stage = model.StageAuthorized

	if f := r.debit(ctx); f != nil {
		return r.fail(ctx, *f)
	}
	if err := r.datasource.AdvanceStage(ctx, r.txn.TransactionID, model.StageAuthorized, model.StageDebited); err != nil {
		// The debit has happened, so the transfer must still be completed or compensated.
		r.log(stepDebit).WithError(err).Error("debit applied but stage not recorded")
	} else {
		r.txn.Stage = model.StageDebited
	}

	if f := r.credit(ctx); f != nil {
		return r.fail(ctx, *f)
	}
	return r.complete(ctx)
}

func (r *transferRun) log(step string) *logrus.Entry {
	return logrus.WithFields(logrus.Fields{
		"transaction_id": r.txn.TransactionID,
		"bank_code":      r.txn.SourceBank,
		"step":           step,
	})
}

func (r *transferRun) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.config.Transfer.CallTimeout())
}

func (r *transferRun) authorize(ctx context.Context) *stepFailure {
	ctx, span := tracer.Start(ctx, "Transfer.Authorize")
	defer span.End()

	callCtx, cancel := r.callContext(ctx)
	defer cancel()

	valid, err := r.source.VerifyPIN(callCtx, r.txn.SourceAccount, r.pin)
	switch {
	case err == nil && valid:
		r.log(stepAuthorize).Info("PIN verified")
		return nil
	case err == nil, apierror.IsCode(err, apierror.ErrUnauthorized):
		r.log(stepAuthorize).Warn("invalid PIN")
		return &stepFailure{
			step:   stepAuthorize,
			reason: ReasonInvalidPIN,
			err:    apierror.NewAPIError(apierror.ErrUnauthorized, "The transaction PIN you entered is incorrect", err),
		}
	case bank.IsNotFound(err):
		return &stepFailure{
			step:   stepAuthorize,
			reason: ReasonSourceNotFound,
			err:    apierror.NewAPIError(apierror.ErrNotFound, "Source account not found at the bank", err),
		}
	default:
		r.log(stepAuthorize).WithError(err).Error("PIN verification failed")
		return &stepFailure{
			step:   stepAuthorize,
			reason: ReasonPINUnavailable,
			err:    apierror.NewAPIError(apierror.ErrUpstreamUnavailable, "Could not verify PIN - bank server unavailable", err),
		}
	}
}

func (r *transferRun) debit(ctx context.Context) *stepFailure {
	ctx, span := tracer.Start(ctx, "Transfer.Debit")
	defer span.End()

	callCtx, cancel := r.callContext(ctx)
	defer cancel()

	_, err := r.source.Debit(callCtx, bank.Movement{
		AccountNumber: r.txn.SourceAccount,
		Amount:        r.txn.Amount,
		Description:   fmt.Sprintf("%s (TXN: %s)", r.txn.Description, r.txn.TransactionID),
		PIN:           r.pin,
	})
	switch {
	case err == nil:
		r.log(stepDebit).Info("debit successful")
		return nil
	case errors.Is(err, bank.ErrOutcomeUnknown):
		r.log(stepDebit).WithError(err).WithField("reconciliation", model.ReconciliationDebitUnconfirmed).Error("debit outcome unknown")
		return &stepFailure{
			step:           stepDebit,
			reason:         ReasonDebitUnconfirmed,
			reconciliation: model.ReconciliationDebitUnconfirmed,
			err: apierror.NewAPIError(apierror.ErrUpstreamUnavailable,
				"Could not confirm the debit - bank server did not respond. The transfer will be reconciled", err),
		}
	case apierror.IsCode(err, apierror.ErrBusinessRule), bank.IsNotFound(err):
		message := userMessage(err, "Debit failed")
		r.log(stepDebit).WithError(err).Warn("debit rejected")
		apiErr, _ := apierror.As(err)
		return &stepFailure{
			step:   stepDebit,
			reason: "debit rejected: " + message,
			err:    apierror.NewAPIError(apiErr.Code, "Could not debit from your account: "+message, err),
		}
	default:
		r.log(stepDebit).WithError(err).Error("debit failed")
		return &stepFailure{
			step:   stepDebit,
			reason: ReasonDebitUnavailable,
			err:    apierror.NewAPIError(apierror.ErrUpstreamUnavailable, "Could not complete debit - bank server unavailable", err),
		}
	}
}

func (r *transferRun) credit(ctx context.Context) *stepFailure {
	ctx, span := tracer.Start(ctx, "Transfer.Credit")
	defer span.End()

	callCtx, cancel := r.callContext(ctx)
	defer cancel()

	_, err := r.dest.Credit(callCtx, bank.Movement{
		AccountNumber: r.txn.RecipientAccount,
		Amount:        r.txn.Amount,
		Description:   fmt.Sprintf("Received from %s (TXN: %s)", r.txn.SourceAccount, r.txn.TransactionID),
	})
	if err == nil {
		r.log(stepCredit).WithField("bank_code", r.txn.DestinationBank).Info("credit successful")
		return nil
	}
	r.log(stepCredit).WithField("bank_code", r.txn.DestinationBank).WithError(err).Error("credit failed, reversing debit")

	refundErr := r.compensate(ctx)
	if refundErr != nil {
		return &stepFailure{
			step:           stepCompensate,
			reason:         ReasonRefundFailedSupport,
			reconciliation: model.ReconciliationRefundFailed,
			err: apierror.NewAPIError(apierror.ErrCompensationFailed, MessageContactSupport,
				fmt.Errorf("transaction %s: credit: %v: refund: %w", r.txn.TransactionID, err, refundErr)),
			escalate: true,
		}
	}

	if bank.IsUnavailable(err) {
		return &stepFailure{
			step:           stepCredit,
			reason:         "credit failed: bank unavailable, refund issued",
			reconciliation: model.ReconciliationRefunded,
			err: apierror.NewAPIError(apierror.ErrUpstreamUnavailable,
				"Could not complete credit - bank server unavailable. Amount has been refunded.", err),
		}
	}
	message := userMessage(err, "Credit failed")
	code := apierror.ErrBusinessRule
	if bank.IsNotFound(err) {
		code = apierror.ErrNotFound
	}
	return &stepFailure{
		step:           stepCredit,
		reason:         "credit failed: " + message + ", refund issued",
		reconciliation: model.ReconciliationRefunded,
		err: apierror.NewAPIError(code,
			fmt.Sprintf("Could not credit recipient account: %s. Amount has been refunded to your account.", message), err),
	}
}

// compensate credits the debited amount back to the source account. It is
// attempted exactly once.
func (r *transferRun) compensate(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "Transfer.Compensate")
	defer span.End()

	callCtx, cancel := r.callContext(ctx)
	defer cancel()

	_, err := r.source.Credit(callCtx, bank.Movement{
		AccountNumber: r.txn.SourceAccount,
		Amount:        r.txn.Amount,
		Description:   fmt.Sprintf("Refund - Transfer failed (TXN: %s)", r.txn.TransactionID),
	})
	if err != nil {
		span.RecordError(err)
		r.metrics.ObserveCompensation("failed")
		return err
	}
	r.metrics.ObserveCompensation("refunded")
	r.log(stepCompensate).Info("refund issued")
	return nil
}

// fail writes the terminal FAILED state and escalates compensation failures.
func (r *transferRun) fail(ctx context.Context, f stepFailure) (*model.TransferOutcome, error) {
	event := EventTransferFailed
	if f.escalate {
		event = ""
	}

	txn, err := r.finalize(ctx, r.txn, model.Finalization{
		Status:         model.StatusFailed,
		Reason:         f.reason,
		Reconciliation: f.reconciliation,
		CompletedAt:    r.now().UTC(),
	}, event)
	if err != nil {
		r.log(f.step).WithError(err).Error("could not record failed transfer")
		txn = r.txn
	}

	if f.escalate {
		r.escalate(ctx, txn, f)
	}

	r.metrics.ObserveTransfer(string(model.StatusFailed), f.step, time.Since(r.start))
	outcome := newOutcome(txn, model.OutcomeError, f.err.Message)
	outcome.Error = f.reason
	return outcome, f.err
}

func (r *transferRun) escalate(ctx context.Context, txn *model.Transaction, f stepFailure) {
	r.log(f.step).WithFields(logrus.Fields{
		"critical":       true,
		"event":          "compensation_failed",
		"reconciliation": f.reconciliation,
		"amount":         txn.Amount.String(),
		"source_account": txn.SourceAccount,
	}).Error(f.err.Detail())

	r.notifier.NotifyCritical(ctx, EventTransferCompensationFailed, txn, map[string]string{
		"Transaction":    txn.TransactionID,
		"Source account": fmt.Sprintf("%s (%s)", txn.SourceAccount, txn.SourceBank),
		"Amount":         txn.Amount.String(),
		"Error":          f.err.Detail(),
	})
}

func (r *transferRun) complete(ctx context.Context) (*model.TransferOutcome, error) {
	txn, err := r.finalize(ctx, r.txn, model.Finalization{
		Status:      model.StatusSuccess,
		CompletedAt: r.now().UTC(),
	}, EventTransferSuccess)
	if err != nil {
		// Money has moved. The record stays PENDING and shows up as stale.
		r.log(stepComplete).WithError(err).WithField("critical", true).Error("transfer completed but not recorded")
		txn = r.txn
	}

	r.log(stepComplete).Info("transfer completed")
	r.metrics.ObserveTransfer(string(model.StatusSuccess), stepCredit, time.Since(r.start))
	return newOutcome(txn, model.OutcomeOK, MessageTransferCompleted), nil
}

// finalize performs the terminal compare-and-set, caches the now immutable
// record and emits event when it is set.
func (b *Banklink) finalize(ctx context.Context, txn *model.Transaction, fin model.Finalization, event string) (*model.Transaction, error) {
	ctx, span := tracer.Start(ctx, "Transfer.Finalize")
	defer span.End()

	updated, err := b.datasource.FinalizeTransaction(ctx, txn.TransactionID, fin)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	if err := b.cache.Set(ctx, transferCacheKey(updated.TransactionID), updated, terminalCacheTTL); err != nil {
		logrus.WithField("transaction_id", updated.TransactionID).WithError(err).Warn("could not cache transfer")
	}
	if event != "" {
		if err := b.SendWebhook(ctx, NewWebhook{Event: event, Payload: updated}); err != nil {
			logrus.WithField("transaction_id", updated.TransactionID).WithError(err).Warn("could not enqueue webhook")
		}
	}
	return updated, nil
}

// resolveSourceAccount checks that the source account belongs to the caller.
func (b *Banklink) resolveSourceAccount(ctx context.Context, req model.TransferRequest) (model.Account, error) {
	position, err := b.FetchAccounts(ctx, req.Identity)
	if err != nil {
		return model.Account{}, err
	}
	switch matches := position.FindAccounts(req.SourceBank, req.SourceAccount); len(matches) {
	case 0:
	case 1:
		return matches[0], nil
	default:
		banks := make([]string, 0, len(matches))
		for _, account := range matches {
			banks = append(banks, account.BankCode)
		}
		return model.Account{}, apierror.NewAPIError(apierror.ErrInvalidInput,
			"Source account exists at more than one bank, specify source_bank",
			fmt.Errorf("source account %s held at %s", req.SourceAccount, strings.Join(banks, ", ")))
	}
	for _, result := range position.PerBankStatus {
		if result.Status == model.BankStatusError {
			return model.Account{}, apierror.NewAPIError(apierror.ErrUpstreamUnavailable,
				"Could not confirm account ownership - a bank server is unavailable",
				fmt.Errorf("source account %s not found and bank %s failed: %s", req.SourceAccount, result.BankCode, result.Error))
		}
	}
	return model.Account{}, apierror.NewAPIError(apierror.ErrForbidden, "Source account not found or you don't own it", nil)
}

// lockIdempotencyKey serializes submissions sharing an idempotency key. Without
// Redis only the store's unique key guards duplicates.
func (b *Banklink) lockIdempotencyKey(ctx context.Context, key string) (func(), error) {
	if b.redis == nil {
		return func() {}, nil
	}

	locker := redlock.NewIdempotencyLocker(b.redis, key, model.GenerateUUIDWithSuffix("lock"))
	if err := locker.Lock(ctx, b.config.Transfer.IdempotencyLockTTL()); err != nil {
		if errors.Is(err, redlock.ErrLockHeld) {
			return nil, apierror.NewAPIError(apierror.ErrConflict, "A transfer with this idempotency key is already in progress", err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Could not process the transfer, try again", err)
	}
	return func() {
		if err := locker.Unlock(context.Background()); err != nil {
			logrus.WithField("lock", locker.Key()).WithError(err).Warn("idempotency lock release failed")
		}
	}, nil
}

// replay answers a resubmitted idempotency key without touching any ledger.
func replay(existing *model.Transaction, userID string) (*model.TransferOutcome, error) {
	if existing.UserID != userID {
		return nil, apierror.NewAPIError(apierror.ErrConflict, "Idempotency key was already used for another transfer", nil)
	}
	if existing.Status == model.StatusPending {
		return nil, apierror.NewAPIError(apierror.ErrConflict, "A transfer with this idempotency key is already in progress", nil)
	}
	status := model.OutcomeOK
	if existing.Status == model.StatusFailed {
		status = model.OutcomeError
	}
	outcome := newOutcome(existing, status, MessageTransferReplayed)
	outcome.Error = existing.FailureReason
	return outcome, nil
}

func newOutcome(txn *model.Transaction, status, message string) *model.TransferOutcome {
	return &model.TransferOutcome{
		Status:           status,
		TransactionID:    txn.TransactionID,
		Amount:           txn.Amount,
		SourceAccount:    txn.SourceAccount,
		RecipientAccount: txn.RecipientAccount,
		Message:          message,
		Transaction:      txn,
	}
}
