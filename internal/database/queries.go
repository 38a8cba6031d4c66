/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package database

const (
	// Intent queries
	queryInsertIntent = `
		INSERT INTO intents (id, merchant_id, payment_id, wallet_address, memo, expected_amount,
		                     status, created_at, metadata, watch_cursor)
		VALUES (?, ?, ?, ?, ?, ?, 'pending', ?, ?, '')`

	queryGetIntent = `
		SELECT id, merchant_id, payment_id, wallet_address, memo, expected_amount,
		       status, tx_signature, created_at, confirmed_at, metadata, watch_cursor, failure_reason
		FROM intents
		WHERE merchant_id = ? AND payment_id = ?`

	queryGetIntentById = `
		SELECT id, merchant_id, payment_id, wallet_address, memo, expected_amount,
		       status, tx_signature, created_at, confirmed_at, metadata, watch_cursor, failure_reason
		FROM intents
		WHERE id = ?`

	queryListPendingIntents = `
		SELECT id, merchant_id, payment_id, wallet_address, memo, expected_amount,
		       status, tx_signature, created_at, confirmed_at, metadata, watch_cursor, failure_reason
		FROM intents
		WHERE status = 'pending'
		ORDER BY created_at`

	queryListStalePendingIntents = `
		SELECT id, merchant_id, payment_id, wallet_address, memo, expected_amount,
		       status, tx_signature, created_at, confirmed_at, metadata, watch_cursor, failure_reason
		FROM intents
		WHERE status = 'pending' AND created_at <= ?
		ORDER BY created_at`

	queryUpdateWatchCursor = `
		UPDATE intents SET watch_cursor = ? WHERE id = ?`

	// Status transitions are guarded by "AND status = 'pending'": the update
	// only lands if no other transition committed first.
	queryConfirmIntent = `
		UPDATE intents
		SET status = 'confirmed', tx_signature = ?, confirmed_at = ?
		WHERE id = ? AND status = 'pending'`

	queryExpireIntent = `
		UPDATE intents
		SET status = 'expired'
		WHERE id = ? AND status = 'pending'`

	queryFailIntent = `
		UPDATE intents
		SET status = 'failed', failure_reason = ?
		WHERE id = ? AND status = 'pending'`

	// Signature index queries
	queryInsertSignature = `
		INSERT INTO matched_signatures (signature, intent_id) VALUES (?, ?)`

	queryGetSignatureIntent = `
		SELECT intent_id FROM matched_signatures WHERE signature = ?`

	// Merchant queries
	queryInsertMerchant = `
		INSERT INTO merchants (id, name, api_key, webhook_url, webhook_secret, wallet_address, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	queryGetMerchantById = `
		SELECT id, name, api_key, webhook_url, webhook_secret, wallet_address, created_at
		FROM merchants
		WHERE id = ?`

	queryGetMerchantByApiKey = `
		SELECT id, name, api_key, webhook_url, webhook_secret, wallet_address, created_at
		FROM merchants
		WHERE api_key = ?`

	// Webhook delivery queries
	queryEnqueueDelivery = `
		INSERT OR IGNORE INTO webhook_deliveries (intent_id, event_type, payment_id, merchant_id, payload, next_retry_at)
		VALUES (?, ?, ?, ?, ?, ?)`

	queryDueDeliveries = `
		SELECT intent_id, event_type, payment_id, merchant_id, payload, attempts, next_retry_at,
		       last_outcome, status, created_at, updated_at
		FROM webhook_deliveries
		WHERE status = 'pending' AND next_retry_at <= ?
		ORDER BY created_at
		LIMIT ?`

	queryGetDelivery = `
		SELECT intent_id, event_type, payment_id, merchant_id, payload, attempts, next_retry_at,
		       last_outcome, status, created_at, updated_at
		FROM webhook_deliveries
		WHERE intent_id = ? AND event_type = ?`

	// attempts counts recorded failures; a successful delivery closes the
	// record without incrementing it.
	queryMarkDelivered = `
		UPDATE webhook_deliveries
		SET status = 'delivered', last_outcome = ?, updated_at = CURRENT_TIMESTAMP
		WHERE intent_id = ? AND event_type = ? AND status = 'pending'`

	queryMarkDeliveryAttempt = `
		UPDATE webhook_deliveries
		SET attempts = attempts + 1, next_retry_at = ?, last_outcome = ?, status = ?, updated_at = CURRENT_TIMESTAMP
		WHERE intent_id = ? AND event_type = ? AND status = 'pending'`

	// Reschedules a pending record without consuming an attempt. Used when
	// the failure happened before any HTTP call could be made.
	queryDeferDelivery = `
		UPDATE webhook_deliveries
		SET next_retry_at = ?, last_outcome = ?, updated_at = CURRENT_TIMESTAMP
		WHERE intent_id = ? AND event_type = ? AND status = 'pending'`
)
