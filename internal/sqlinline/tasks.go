package sqlinline

const QInsertTask = `--sql 4abed9a7-2564-4795-9ca1-dc448c4f613e
insert into moda_tasks(
  remote_task_id,
  api_key,
  kind,
  model,
  prompt,
  negative_prompt,
  size,
  seed,
  steps,
  guidance,
  input_image_url,
  status,
  request_id,
  created_at
) values (
  $1::text,
  $2::text,
  $3::text,
  $4::text,
  $5::text,
  nullif($6::text, ''),
  nullif($7::text, ''),
  $8::bigint,
  nullif($9::int, 0),
  nullif($10::double precision, 0),
  nullif($11::text, ''),
  'PENDING',
  nullif($12::text, ''),
  now()
) returning id, created_at;
`

// The caller decides $6 from the row's current state; the coalesce keeps the
// first completed_at if two updates race.
const QUpdateTaskByRemoteID = `--sql 19844590-f03c-4923-95a0-c79ca71c2213
update moda_tasks set
  status        = coalesce(nullif($2::text, ''), status),
  output_images = coalesce($3::text[], output_images),
  result_seed   = coalesce($4::bigint, result_seed),
  request_id    = coalesce(nullif($5::text, ''), request_id),
  completed_at  = coalesce(completed_at, $6::timestamptz)
where remote_task_id = $1::text;
`

const QSelectTaskStateByRemoteID = `--sql 3be07a62-91cd-4e8f-b5a9-0f6214dd78c4
select status, completed_at
from moda_tasks
where remote_task_id = $1::text
limit 1;
`

const QInsertUserTask = `--sql d5eb5a7d-e412-401c-b67d-2dfc37f0fafc
insert into moda_user_tasks(user_id, task_id, created_at)
values ($1::text, $2::bigint, now())
returning id;
`

const taskColumns = `
  t.id,
  t.remote_task_id,
  t.api_key,
  t.kind,
  t.model,
  t.prompt,
  t.negative_prompt,
  t.size,
  t.seed,
  t.steps,
  t.guidance,
  t.input_image_url,
  t.status,
  t.request_id,
  t.output_images,
  t.result_seed,
  t.created_at,
  t.completed_at`

const QSelectTaskByID = `--sql f61a4d44-e8d8-4049-9b6c-a71a54abe06e
select` + taskColumns + `
from moda_tasks t
where t.id = $1::bigint
limit 1;
`

// Authorization is existence of a user link; a task the user is not linked to
// is indistinguishable from a missing one.
const QSelectTaskForUser = `--sql 1d4e278f-6bcb-4dad-aae8-c0f2130fa475
select` + taskColumns + `
from moda_tasks t
where t.id = $1::bigint
  and exists (
    select 1 from moda_user_tasks ut
    where ut.task_id = t.id and ut.user_id = $2::text
  )
limit 1;
`

const QListTasksForUser = `--sql 5f001982-99c1-4f83-b247-248e60faaefa
select` + taskColumns + `
from moda_user_tasks ut
join moda_tasks t on t.id = ut.task_id
where ut.user_id = $1::text
order by ut.created_at desc, ut.id desc
limit $2::int offset $3::int;
`
