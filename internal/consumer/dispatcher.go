package consumer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/EvoTicket/Notification-Service/pkg/event"
)

// ErrUnknownStream はハンドラが登録されていないストリームのレコードを
// 受信したことを表す。設定ミスに分類され、レコードはACKされない。
var ErrUnknownStream = errors.New("ハンドラが登録されていないストリームです")

// Envelope はストリームから読み取った1レコードを表す。読み取り後は不変。
type Envelope struct {
	// Stream はレコードが属するストリーム名。
	Stream string
	// ID はブローカーが採番したレコードID。ストリーム内で単調増加する。
	ID string
	// Payload はレコードのpayloadフィールドの値（シリアライズ済みイベント本文）。
	Payload []byte
}

// Handler はストリームレコードを処理する関数。
// nilを返した場合のみレコードがACKされる。エラーを返した場合レコードは
// pendingのまま残り、ブローカーの再配信対象になる。そのためハンドラは
// 冪等であるか、重複実行を許容できなければならない。
type Handler func(ctx context.Context, env Envelope) error

// StreamClient はコンシューマグループ操作を行うブローカークライアント。
type StreamClient interface {
	// EnsureGroup はストリームにコンシューマグループを作成する。
	// 既に存在する場合は成功として扱う。
	EnsureGroup(ctx context.Context, stream, group string) error
	// Read はグループ未配信の新規レコードをブロッキング読み取りする。
	// レコードがない場合は空スライスを返す。
	Read(ctx context.Context, stream, group, consumerName string) ([]Envelope, error)
	// Ack はレコードを処理済みとしてグループに通知する。
	Ack(ctx context.Context, stream, group, recordID string) error
}

// Dispatcher は1つのコンシューマグループとして複数ストリームを購読し、
// レコードをストリームごとのハンドラへ振り分ける。
// ストリームごとに1つの読み取りゴルーチンを起動し、ゴルーチン内では
// 1レコードずつ同期的に処理する（ストリーム内の処理順序を保証する）。
type Dispatcher struct {
	// client はブローカークライアント。
	client StreamClient
	// group はコンシューマグループ名。
	group string
	// consumerName はグループ内でのこのコンシューマの名前。
	consumerName string
	// handlers はストリーム名からハンドラへのマッピング。起動後は変更不可。
	handlers map[string]Handler
	// cancel は全購読ループを停止するためのキャンセル関数。
	cancel context.CancelFunc
	// wg は購読ループの終了を待ち合わせる。
	wg sync.WaitGroup
}

// NewDispatcher は新しいDispatcherを生成する。
func NewDispatcher(client StreamClient, group, consumerName string) *Dispatcher {
	return &Dispatcher{
		client:       client,
		group:        group,
		consumerName: consumerName,
		handlers:     make(map[string]Handler),
	}
}

// Register はストリームにハンドラを登録する。Startより前に呼ぶこと。
func (d *Dispatcher) Register(stream event.Stream, handler Handler) {
	d.handlers[string(stream)] = handler
}

// Start は登録された全ストリームの購読を開始する。
// グループ作成に失敗したストリームはログに記録してスキップし、
// 他のストリームの購読は継続する（部分的な可用性を全停止より優先する）。
func (d *Dispatcher) Start(ctx context.Context) {
	ctx, d.cancel = context.WithCancel(ctx)

	for stream := range d.handlers {
		if err := d.client.EnsureGroup(ctx, stream, d.group); err != nil {
			log.Printf("コンシューマグループの作成に失敗したためストリームをスキップ stream=%s group=%s: %v", stream, d.group, err)
			continue
		}
		log.Printf("ストリームの購読を開始 stream=%s group=%s consumer=%s", stream, d.group, d.consumerName)

		d.wg.Add(1)
		go func(stream string) {
			defer d.wg.Done()
			d.readLoop(ctx, stream)
		}(stream)
	}
}

// Stop は全購読をキャンセルし、処理中のハンドラの完了を待つ。
// Startが呼ばれていない場合や部分的に失敗した場合でも安全に呼べる。
func (d *Dispatcher) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()
	log.Print("ストリームの購読を停止しました")
}

// readLoop は1ストリームのブロッキング読み取りループ。
// 読み取りエラー時は少し待ってから再試行する。コンテキストの
// キャンセルでループを抜ける。
func (d *Dispatcher) readLoop(ctx context.Context, stream string) {
	for ctx.Err() == nil {
		envelopes, err := d.client.Read(ctx, stream, d.group, d.consumerName)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("ストリームの読み取りに失敗 stream=%s: %v", stream, err)
			select {
			case <-time.After(500 * time.Millisecond):
			case <-ctx.Done():
				return
			}
			continue
		}

		for _, env := range envelopes {
			d.dispatch(ctx, env)
		}
	}
}

// dispatch は1レコードをハンドラへ振り分け、成功した場合のみACKする。
// ハンドラのエラーとパニックはここで吸収し、読み取りループには伝播させない。
// 1件の不正なレコードが後続のレコードの消費を止めてはならない。
func (d *Dispatcher) dispatch(ctx context.Context, env Envelope) {
	handler, ok := d.handlers[env.Stream]
	if !ok {
		// 未登録ストリームは設定ミス。ACKせずpendingに残し、ログで検知可能にする。
		log.Printf("レコードの振り分けに失敗 stream=%s id=%s: %v", env.Stream, env.ID, ErrUnknownStream)
		return
	}

	if err := d.invoke(ctx, handler, env); err != nil {
		log.Printf("レコードの処理に失敗（ACKせず再配信を待つ） stream=%s id=%s: %v", env.Stream, env.ID, err)
		return
	}

	if err := d.client.Ack(ctx, env.Stream, d.group, env.ID); err != nil {
		log.Printf("レコードのACKに失敗 stream=%s id=%s: %v", env.Stream, env.ID, err)
		return
	}
	log.Printf("レコードを処理しました stream=%s id=%s", env.Stream, env.ID)
}

// invoke はハンドラを実行し、パニックをエラーに変換する。
func (d *Dispatcher) invoke(ctx context.Context, handler Handler, env Envelope) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("ハンドラがパニックを起こしました: %v", r)
		}
	}()
	return handler(ctx, env)
}
